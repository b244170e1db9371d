// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject a Fake with deterministic control.
//
// The inode layer stamps atime/mtime/ctime through a Clock so that
// metadata tests can assert exact timestamps instead of sleeping.
package clock
