// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock provides the current time. Every component that stamps
// timestamps takes a Clock instead of calling time.Now directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
