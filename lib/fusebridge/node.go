// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package fusebridge

import (
	"context"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/vfs"
)

// pathNode is one kernel inode. Its only state is its position in
// the go-fuse tree; the textual path is re-derived per operation and
// handed to the vfs layer, which owns identity and caching.
type pathNode struct {
	gofuse.Inode
	context *vfs.Context
}

var _ gofuse.InodeEmbedder = (*pathNode)(nil)
var _ gofuse.NodeLookuper = (*pathNode)(nil)
var _ gofuse.NodeGetattrer = (*pathNode)(nil)
var _ gofuse.NodeSetattrer = (*pathNode)(nil)
var _ gofuse.NodeOpener = (*pathNode)(nil)
var _ gofuse.NodeOpendirer = (*pathNode)(nil)
var _ gofuse.NodeCreater = (*pathNode)(nil)
var _ gofuse.NodeReaddirer = (*pathNode)(nil)
var _ gofuse.NodeMkdirer = (*pathNode)(nil)
var _ gofuse.NodeUnlinker = (*pathNode)(nil)
var _ gofuse.NodeRmdirer = (*pathNode)(nil)
var _ gofuse.NodeRenamer = (*pathNode)(nil)
var _ gofuse.NodeLinker = (*pathNode)(nil)
var _ gofuse.NodeSymlinker = (*pathNode)(nil)
var _ gofuse.NodeReadlinker = (*pathNode)(nil)
var _ gofuse.NodeStatfser = (*pathNode)(nil)
var _ gofuse.NodeFsyncer = (*pathNode)(nil)
var _ gofuse.NodeGetxattrer = (*pathNode)(nil)
var _ gofuse.NodeSetxattrer = (*pathNode)(nil)
var _ gofuse.NodeListxattrer = (*pathNode)(nil)
var _ gofuse.NodeRemovexattrer = (*pathNode)(nil)

// vfsPath returns this node's path in the logical namespace.
func (n *pathNode) vfsPath() string {
	return "/" + n.Path(nil)
}

func (n *pathNode) childPath(name string) string {
	path := n.Path(nil)
	if path == "" {
		return "/" + name
	}
	return "/" + path + "/" + name
}

// caller extracts the requesting uid/gid from the FUSE context.
func caller(ctx context.Context) (uid, gid uint32) {
	if fuseCaller, ok := fuse.FromContext(ctx); ok {
		return fuseCaller.Uid, fuseCaller.Gid
	}
	return 0, 0
}

// fillAttr copies an inode attribute snapshot into a kernel attr.
func fillAttr(out *fuse.Attr, attr inode.Attr) {
	out.Mode = attr.Mode
	out.Nlink = attr.NLink
	out.Uid = attr.UID
	out.Gid = attr.GID
	out.Size = uint64(attr.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = inode.BlockSize
	out.SetTimes(&attr.Atime, &attr.Mtime, &attr.Ctime)
}

func (n *pathNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, errno := n.context.GetAttr(n.childPath(name))
	if errno != 0 {
		return nil, errno
	}

	child := n.NewInode(ctx, &pathNode{context: n.context},
		gofuse.StableAttr{Mode: attr.Kind.FileType()})
	fillAttr(&out.Attr, attr)
	return child, 0
}

func (n *pathNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, errno := n.context.GetAttr(n.vfsPath())
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Setattr multiplexes chmod, chown, truncate, and utimens.
func (n *pathNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	path := n.vfsPath()

	if mode, ok := in.GetMode(); ok {
		if errno := n.context.Chmod(path, mode); errno != 0 {
			return errno
		}
	}

	uid, hasUID := in.GetUID()
	gid, hasGID := in.GetGID()
	if hasUID || hasGID {
		attr, errno := n.context.GetAttr(path)
		if errno != 0 {
			return errno
		}
		if !hasUID {
			uid = attr.UID
		}
		if !hasGID {
			gid = attr.GID
		}
		if errno := n.context.Chown(path, uid, gid); errno != 0 {
			return errno
		}
	}

	if size, ok := in.GetSize(); ok {
		if fh, isHandle := f.(*fileHandle); isHandle {
			if errno := fh.truncate(int64(size)); errno != 0 {
				return errno
			}
		} else if errno := n.context.Truncate(path, int64(size)); errno != 0 {
			return errno
		}
	}

	atime, hasAtime := in.GetATime()
	mtime, hasMtime := in.GetMTime()
	if hasAtime || hasMtime {
		var atimePtr, mtimePtr *time.Time
		if hasAtime {
			atimePtr = &atime
		}
		if hasMtime {
			mtimePtr = &mtime
		}
		if errno := n.context.Utimens(path, atimePtr, mtimePtr); errno != 0 {
			return errno
		}
	}

	attr, errno := n.context.GetAttr(path)
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, attr)
	return 0
}

func (n *pathNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	accessMode := flags & uint32(syscall.O_ACCMODE)
	wantWrite := accessMode != uint32(syscall.O_RDONLY) || flags&uint32(syscall.O_APPEND) != 0
	truncate := flags&uint32(syscall.O_TRUNC) != 0

	node, errno := n.context.Open(n.vfsPath(), wantWrite, truncate)
	if errno != 0 {
		return nil, 0, errno
	}
	return &fileHandle{context: n.context, node: node}, 0, 0
}

// Opendir verifies the node is a directory. Directory streaming goes
// through Readdir; the reference taken here is returned immediately,
// the table keeps the node warm for the reads that follow.
func (n *pathNode) Opendir(ctx context.Context) syscall.Errno {
	node, errno := n.context.OpenDir(n.vfsPath())
	if errno != 0 {
		return errno
	}
	return n.context.ReleaseNode(node)
}

func (n *pathNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	uid, gid := caller(ctx)
	path := n.childPath(name)

	node, errno := n.context.CreateFile(path, mode, uid, gid)
	if errno != 0 {
		return nil, nil, 0, errno
	}

	child := n.NewInode(ctx, &pathNode{context: n.context},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	fillAttr(&out.Attr, node.Stat())
	return child, &fileHandle{context: n.context, node: node}, 0, 0
}

func (n *pathNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	errno := n.context.ReadDir(n.vfsPath(), func(entry inode.DirEntry) bool {
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name,
			Mode: entry.Kind.FileType(),
		})
		return true
	})
	if errno != 0 {
		return nil, errno
	}
	return gofuse.NewListDirStream(entries), 0
}

func (n *pathNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	uid, gid := caller(ctx)
	path := n.childPath(name)

	if errno := n.context.Mkdir(path, mode, uid, gid); errno != 0 {
		return nil, errno
	}
	attr, errno := n.context.GetAttr(path)
	if errno != 0 {
		return nil, errno
	}

	child := n.NewInode(ctx, &pathNode{context: n.context},
		gofuse.StableAttr{Mode: syscall.S_IFDIR})
	fillAttr(&out.Attr, attr)
	return child, 0
}

func (n *pathNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.context.RemovePath(n.childPath(name))
}

// Rmdir forwards to the same removal path as Unlink: emptiness is
// checked against the runtime type of the target.
func (n *pathNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.context.RemovePath(n.childPath(name))
}

func (n *pathNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		// RENAME_EXCHANGE and RENAME_NOREPLACE are not supported.
		return syscall.EINVAL
	}
	parent, ok := newParent.(*pathNode)
	if !ok {
		return syscall.EXDEV
	}
	return n.context.Rename(n.childPath(name), parent.childPath(newName))
}

func (n *pathNode) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	targetNode, ok := target.(*pathNode)
	if !ok {
		return nil, syscall.EXDEV
	}
	path := n.childPath(name)

	if errno := n.context.Link(targetNode.vfsPath(), path); errno != 0 {
		return nil, errno
	}
	attr, errno := n.context.GetAttr(path)
	if errno != 0 {
		return nil, errno
	}

	child := n.NewInode(ctx, &pathNode{context: n.context},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	fillAttr(&out.Attr, attr)
	return child, 0
}

func (n *pathNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	uid, gid := caller(ctx)
	path := n.childPath(name)

	if errno := n.context.Symlink(target, path, uid, gid); errno != 0 {
		return nil, errno
	}
	attr, errno := n.context.GetAttr(path)
	if errno != 0 {
		return nil, errno
	}

	child := n.NewInode(ctx, &pathNode{context: n.context},
		gofuse.StableAttr{Mode: syscall.S_IFLNK})
	fillAttr(&out.Attr, attr)
	return child, 0
}

func (n *pathNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, errno := n.context.Readlink(n.vfsPath())
	if errno != 0 {
		return nil, errno
	}
	return []byte(target), 0
}

// Fsync serves both fsync (through the open handle when one exists)
// and fsyncdir (directories carry no handle; sync goes by path).
func (n *pathNode) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	if handle, ok := f.(*fileHandle); ok {
		return n.context.FsyncNode(handle.node)
	}
	return n.context.Fsync(n.vfsPath())
}

func (n *pathNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	stat, errno := n.context.StatFS()
	if errno != 0 {
		return errno
	}
	out.Blocks = stat.Blocks
	out.Bfree = stat.Bfree
	out.Bavail = stat.Bavail
	out.Files = stat.Files
	out.Ffree = stat.Ffree
	out.Bsize = uint32(stat.Bsize)
	out.NameLen = uint32(stat.Namelen)
	out.Frsize = uint32(stat.Frsize)
	return 0
}

func (n *pathNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, errno := n.context.GetXattr(n.vfsPath(), attr)
	if errno != 0 {
		return 0, errno
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

func (n *pathNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.context.SetXattr(n.vfsPath(), attr, data)
}

func (n *pathNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, errno := n.context.ListXattr(n.vfsPath())
	if errno != 0 {
		return 0, errno
	}
	var needed int
	for _, name := range names {
		needed += len(name) + 1
	}
	if len(dest) < needed {
		return uint32(needed), syscall.ERANGE
	}
	offset := 0
	for _, name := range names {
		offset += copy(dest[offset:], name)
		dest[offset] = 0
		offset++
	}
	return uint32(offset), 0
}

func (n *pathNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.context.RemoveXattr(n.vfsPath(), attr)
}
