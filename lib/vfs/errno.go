// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"syscall"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
)

// ToErrno converts an error from the inode or table layer to the
// errno handed to the kernel. Unexpected failures become EPERM: the
// caller learns the operation was refused without the kernel log
// filling with internal detail.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, inode.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, inode.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, inode.ErrNoAttribute):
		return syscall.ENODATA
	case errors.Is(err, inode.ErrWrongType):
		return syscall.EPERM
	}
	return syscall.EPERM
}
