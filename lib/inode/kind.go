// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import "golang.org/x/sys/unix"

// Kind is the inode type tag. It is stored alongside each directory
// entry and determines which capability set a node exposes.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

// String returns the kind name for logs and errors.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	}
	return "unknown"
}

// FileType returns the stat file-type bits for the kind.
func (k Kind) FileType() uint32 {
	switch k {
	case KindDirectory:
		return unix.S_IFDIR
	case KindSymlink:
		return unix.S_IFLNK
	}
	return unix.S_IFREG
}
