// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import "errors"

var (
	// ErrNotFound is returned by Store.Open when the on-disk pair
	// for an id does not exist.
	ErrNotFound = errors.New("inode not found")

	// ErrExists is returned by Store.Create when the on-disk pair
	// for an id already exists.
	ErrExists = errors.New("inode already exists")

	// ErrWrongType is returned when a node is projected to a
	// capability set its kind does not have.
	ErrWrongType = errors.New("inode has wrong type")

	// ErrNoAttribute is returned by xattr lookups for absent names.
	ErrNoAttribute = errors.New("no such extended attribute")
)
