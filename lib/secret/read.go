// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"io"
)

// NewFromReader reads exactly size bytes from r into a new secret
// buffer. Used to take the unsealed master key straight from the age
// decryption stream without the bytes landing in a heap slice first.
func NewFromReader(r io.Reader, size int) (*Buffer, error) {
	buffer, err := New(size)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: reading %d bytes: %w", size, err)
	}
	return buffer, nil
}
