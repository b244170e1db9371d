// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package fusebridge

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/vfs"
)

// fileHandle carries the raw inode node of one kernel open. The
// reference it holds was taken out of the file table by Open/Create
// and goes back in Release; the kernel guarantees the pairing.
type fileHandle struct {
	context *vfs.Context
	node    inode.Node
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileWriter = (*fileHandle)(nil)
var _ gofuse.FileFlusher = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)
var _ gofuse.FileFsyncer = (*fileHandle)(nil)

func (h *fileHandle) regular() (*inode.RegularFile, syscall.Errno) {
	file, ok := h.node.(*inode.RegularFile)
	if !ok {
		return nil, syscall.EBADF
	}
	return file, 0
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	file, errno := h.regular()
	if errno != 0 {
		return nil, errno
	}
	n, err := file.ReadAt(dest, off)
	if err != nil {
		return nil, vfs.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	file, errno := h.regular()
	if errno != 0 {
		return 0, errno
	}
	n, err := file.WriteAt(data, off)
	if err != nil {
		return 0, vfs.ToErrno(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return h.context.FlushNode(h.node)
}

func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.context.FsyncNode(h.node)
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	errno := h.context.ReleaseNode(h.node)
	h.node = nil
	return errno
}

// truncate implements ftruncate on the open handle.
func (h *fileHandle) truncate(size int64) syscall.Errno {
	file, errno := h.regular()
	if errno != 0 {
		return errno
	}
	if err := file.Truncate(size); err != nil {
		return vfs.ToErrno(err)
	}
	return h.context.FlushNode(h.node)
}
