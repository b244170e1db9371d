// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vaultfs-foundation/vaultfs/lib/filetable"
	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

const (
	kindRegular   = inode.KindRegular
	kindDirectory = inode.KindDirectory
	kindSymlink   = inode.KindSymlink
)

// create walks the base directory, generates a fresh id, creates the
// inode, and links it under the final component. If the directory
// entry cannot be added — name collision or any failure — the
// just-created inode is unlinked before the error surfaces, so a
// failed create leaves no orphan in the vault.
func (c *Context) create(path string, kind inode.Kind, mode, uid, gid uint32) (*filetable.Handle, error) {
	dirHandle, last, err := c.openBaseDir(path)
	if err != nil {
		return nil, err
	}
	defer dirHandle.Close()

	if last == "" {
		return nil, syscall.EEXIST
	}
	directory, err := dirHandle.AsDirectory()
	if err != nil {
		return nil, err
	}

	id, err := inodeid.New()
	if err != nil {
		return nil, err
	}
	handle, err := filetable.CreateHandle(c.table, id, kind)
	if err != nil {
		return nil, err
	}
	if err := handle.Get().InitializeEmpty(mode, uid, gid); err != nil {
		handle.Get().Unlink()
		handle.Close()
		return nil, err
	}

	if !directory.AddEntry(last, id, kind) {
		handle.Get().Unlink()
		handle.Close()
		return nil, syscall.EEXIST
	}
	return handle, nil
}

// CreateFile creates a regular file and returns its raw node for the
// kernel file handle. The caller pairs it with ReleaseNode.
func (c *Context) CreateFile(path string, mode, uid, gid uint32) (inode.Node, syscall.Errno) {
	if c.table.IsReadOnly() {
		return nil, syscall.EROFS
	}
	mode = mode&^uint32(unix.S_IFMT) | unix.S_IFREG
	handle, err := c.create(path, kindRegular, mode, uid, gid)
	if err != nil {
		return nil, ToErrno(err)
	}
	return handle.Release(), 0
}

// Mkdir creates a directory.
func (c *Context) Mkdir(path string, mode, uid, gid uint32) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	mode = mode&^uint32(unix.S_IFMT) | unix.S_IFDIR
	handle, err := c.create(path, kindDirectory, mode, uid, gid)
	if err != nil {
		return ToErrno(err)
	}
	handle.Close()
	return 0
}

// Symlink creates a symbolic link at linkPath pointing to target.
func (c *Context) Symlink(target, linkPath string, uid, gid uint32) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.create(linkPath, kindSymlink, unix.S_IFLNK|0o755, uid, gid)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	symlink, err := handle.AsSymlink()
	if err != nil {
		return ToErrno(err)
	}
	symlink.Set(target)
	return 0
}

// Readlink returns a symlink's target.
func (c *Context) Readlink(path string) (string, syscall.Errno) {
	handle, err := c.openAll(path)
	if err != nil {
		return "", ToErrno(err)
	}
	defer handle.Close()

	symlink, err := handle.AsSymlink()
	if err != nil {
		return "", syscall.EINVAL
	}
	return symlink.Get(), 0
}

// Open resolves path to a regular file and returns its raw node for
// the kernel file handle. wantWrite rejects read-only mounts before
// the walk; truncate cuts the file to zero under O_TRUNC.
func (c *Context) Open(path string, wantWrite, truncate bool) (inode.Node, syscall.Errno) {
	if wantWrite && c.table.IsReadOnly() {
		return nil, syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return nil, ToErrno(err)
	}

	file, err := handle.AsRegular()
	if err != nil {
		kind := kindRegular
		if node := handle.Get(); node != nil {
			kind = node.Kind()
		}
		handle.Close()
		if kind == kindDirectory {
			return nil, syscall.EISDIR
		}
		return nil, ToErrno(err)
	}
	if truncate {
		if err := file.Truncate(0); err != nil {
			handle.Close()
			return nil, ToErrno(err)
		}
	}
	return handle.Release(), 0
}

// OpenDir resolves path to a directory and returns its raw node.
func (c *Context) OpenDir(path string) (inode.Node, syscall.Errno) {
	handle, err := c.openAll(path)
	if err != nil {
		return nil, ToErrno(err)
	}
	if _, err := handle.AsDirectory(); err != nil {
		handle.Close()
		return nil, syscall.ENOTDIR
	}
	return handle.Release(), 0
}

// ReleaseNode pairs with CreateFile/Open/OpenDir: the raw node is
// flushed and returned to the table. A nil node is the kernel passing
// back a handle it never got; report EFAULT rather than crash.
func (c *Context) ReleaseNode(node inode.Node) syscall.Errno {
	if node == nil {
		return syscall.EFAULT
	}
	if err := node.Flush(); err != nil {
		c.logger.Warn("flush on release failed", "id", inodeid.Format(node.ID()), "error", err)
	}
	filetable.NewHandle(c.table, node).Close()
	return 0
}

// GetAttr stats the inode at path.
func (c *Context) GetAttr(path string) (inode.Attr, syscall.Errno) {
	handle, err := c.openAll(path)
	if err != nil {
		return inode.Attr{}, ToErrno(err)
	}
	defer handle.Close()
	return handle.Get().Stat(), 0
}

// ReadDir feeds each entry of the directory at path to sink in name
// order, stopping early when sink returns false.
func (c *Context) ReadDir(path string, sink func(inode.DirEntry) bool) syscall.Errno {
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	directory, err := handle.AsDirectory()
	if err != nil {
		return syscall.ENOTDIR
	}
	directory.IterateEntries(sink)
	return 0
}

// ReadDirNode is ReadDir over an already-open kernel dir handle.
func (c *Context) ReadDirNode(node inode.Node, sink func(inode.DirEntry) bool) syscall.Errno {
	if node == nil {
		return syscall.EFAULT
	}
	directory, ok := node.(*inode.Directory)
	if !ok {
		return syscall.ENOTDIR
	}
	directory.IterateEntries(sink)
	return 0
}

// RemovePath removes the name at path: the directory entry first,
// then — best effort — the inode itself. Serving both unlink and
// rmdir, the non-empty check comes from the runtime type of the
// target, not from which syscall arrived.
func (c *Context) RemovePath(path string) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}

	dirHandle, last, err := c.openBaseDir(path)
	if err != nil {
		return ToErrno(err)
	}
	defer dirHandle.Close()

	if last == "" {
		return syscall.EPERM
	}
	directory, err := dirHandle.AsDirectory()
	if err != nil {
		return ToErrno(err)
	}
	entry, ok := directory.GetEntry(last)
	if !ok {
		return syscall.ENOENT
	}

	targetHandle, err := filetable.OpenHandle(c.table, entry.ID, entry.Kind)
	if err != nil {
		return ToErrno(err)
	}
	defer targetHandle.Close()

	if target, dirErr := targetHandle.AsDirectory(); dirErr == nil && !target.Empty() {
		var contents []string
		target.IterateEntries(func(child inode.DirEntry) bool {
			contents = append(contents, child.Name)
			return true
		})
		c.logger.Warn("refusing to remove non-empty directory",
			"path", path, "contents", strings.Join(contents, ", "))
		return syscall.ENOTEMPTY
	}

	directory.RemoveEntry(last)

	// The namespace is already consistent; a failure unlinking the
	// inode itself only leaks an orphaned pair.
	targetHandle.Get().Unlink()
	c.memo.clearID(entry.ID)
	c.memo.clearPath(c.foldPath(canonical(path)))
	return 0
}

// Rename moves src to dst. Same-id rename is a trivial success; a
// displaced destination is unlinked after the entries move, errors
// swallowed. Entry-level atomicity only: a failure between the
// remove and the add can leave the name absent from both directories.
func (c *Context) Rename(src, dst string) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}

	srcDirHandle, srcName, err := c.openBaseDir(src)
	if err != nil {
		return ToErrno(err)
	}
	defer srcDirHandle.Close()
	dstDirHandle, dstName, err := c.openBaseDir(dst)
	if err != nil {
		return ToErrno(err)
	}
	defer dstDirHandle.Close()

	if srcName == "" || dstName == "" {
		return syscall.EPERM
	}
	srcDir, err := srcDirHandle.AsDirectory()
	if err != nil {
		return ToErrno(err)
	}
	dstDir, err := dstDirHandle.AsDirectory()
	if err != nil {
		return ToErrno(err)
	}

	srcEntry, ok := srcDir.GetEntry(srcName)
	if !ok {
		return syscall.ENOENT
	}
	dstEntry, dstExists := dstDir.GetEntry(dstName)

	if dstExists {
		if srcEntry.ID == dstEntry.ID {
			return 0
		}
		if srcEntry.Kind != kindDirectory && dstEntry.Kind == kindDirectory {
			return syscall.EISDIR
		}
		if srcEntry.Kind != dstEntry.Kind {
			return syscall.EINVAL
		}
		dstDir.RemoveEntry(dstName)
	}

	srcDir.RemoveEntry(srcName)
	dstDir.AddEntry(dstName, srcEntry.ID, srcEntry.Kind)

	if dstExists {
		c.removeInode(dstEntry.ID, dstEntry.Kind)
	}

	c.memo.clearID(srcEntry.ID)
	c.memo.clearPath(c.foldPath(canonical(src)))
	return 0
}

// Link creates a hard link to a regular file. Directories and
// symlinks cannot be linked.
func (c *Context) Link(src, dst string) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}

	srcDirHandle, srcName, err := c.openBaseDir(src)
	if err != nil {
		return ToErrno(err)
	}
	defer srcDirHandle.Close()
	dstDirHandle, dstName, err := c.openBaseDir(dst)
	if err != nil {
		return ToErrno(err)
	}
	defer dstDirHandle.Close()

	if srcName == "" || dstName == "" {
		return syscall.EPERM
	}
	srcDir, err := srcDirHandle.AsDirectory()
	if err != nil {
		return ToErrno(err)
	}
	dstDir, err := dstDirHandle.AsDirectory()
	if err != nil {
		return ToErrno(err)
	}

	srcEntry, ok := srcDir.GetEntry(srcName)
	if !ok {
		return syscall.ENOENT
	}
	if _, exists := dstDir.GetEntry(dstName); exists {
		return syscall.EEXIST
	}

	handle, err := filetable.OpenHandle(c.table, srcEntry.ID, srcEntry.Kind)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	if handle.Get().Kind() != kindRegular {
		return syscall.EPERM
	}
	handle.Get().SetNLink(handle.Get().NLink() + 1)
	dstDir.AddEntry(dstName, srcEntry.ID, srcEntry.Kind)
	return 0
}

// Truncate cuts or grows the regular file at path, then flushes.
func (c *Context) Truncate(path string, size int64) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	file, err := handle.AsRegular()
	if err != nil {
		return ToErrno(err)
	}
	if err := file.Truncate(size); err != nil {
		return ToErrno(err)
	}
	return ToErrno(file.Flush())
}

// Chmod changes permission bits, preserving the file-type bits.
func (c *Context) Chmod(path string, mode uint32) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	node := handle.Get()
	node.SetMode(mode&0o777 | node.Mode()&uint32(unix.S_IFMT))
	return ToErrno(node.Flush())
}

// Chown changes ownership.
func (c *Context) Chown(path string, uid, gid uint32) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	node := handle.Get()
	node.SetUID(uid)
	node.SetGID(gid)
	return ToErrno(node.Flush())
}

// Utimens sets access and modification times.
func (c *Context) Utimens(path string, atime, mtime *time.Time) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	node := handle.Get()
	node.Utimens(atime, mtime)
	return ToErrno(node.Flush())
}

// Fsync flushes and syncs the inode at path. Serves fsyncdir, where
// the kernel hands the bridge no usable file handle.
func (c *Context) Fsync(path string) syscall.Errno {
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	if err := handle.Get().Flush(); err != nil {
		return ToErrno(err)
	}
	return ToErrno(handle.Get().Fsync())
}

// FlushNode flushes an open kernel handle's node.
func (c *Context) FlushNode(node inode.Node) syscall.Errno {
	if node == nil {
		return syscall.EFAULT
	}
	return ToErrno(node.Flush())
}

// FsyncNode flushes and syncs an open kernel handle's node.
func (c *Context) FsyncNode(node inode.Node) syscall.Errno {
	if node == nil {
		return syscall.EFAULT
	}
	if err := node.Flush(); err != nil {
		return ToErrno(err)
	}
	return ToErrno(node.Fsync())
}

// StatFS reports statistics of the filesystem beneath the vault.
func (c *Context) StatFS() (unix.Statfs_t, syscall.Errno) {
	stat, err := c.table.Statfs()
	if err != nil {
		return unix.Statfs_t{}, ToErrno(err)
	}
	return stat, 0
}

// GetXattr reads one extended attribute.
func (c *Context) GetXattr(path, name string) ([]byte, syscall.Errno) {
	handle, err := c.openAll(path)
	if err != nil {
		return nil, ToErrno(err)
	}
	defer handle.Close()

	value, err := handle.Get().GetXattr(name)
	if err != nil {
		return nil, ToErrno(err)
	}
	return value, 0
}

// SetXattr writes one extended attribute and flushes.
func (c *Context) SetXattr(path, name string, value []byte) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	if err := handle.Get().SetXattr(name, value); err != nil {
		return ToErrno(err)
	}
	return ToErrno(handle.Get().Flush())
}

// ListXattr lists extended attribute names.
func (c *Context) ListXattr(path string) ([]string, syscall.Errno) {
	handle, err := c.openAll(path)
	if err != nil {
		return nil, ToErrno(err)
	}
	defer handle.Close()
	return handle.Get().ListXattr(), 0
}

// RemoveXattr deletes one extended attribute and flushes.
func (c *Context) RemoveXattr(path, name string) syscall.Errno {
	if c.table.IsReadOnly() {
		return syscall.EROFS
	}
	handle, err := c.openAll(path)
	if err != nil {
		return ToErrno(err)
	}
	defer handle.Close()

	if err := handle.Get().RemoveXattr(name); err != nil {
		return ToErrno(err)
	}
	return ToErrno(handle.Get().Flush())
}

// removeInode unlinks a displaced inode by id, best effort. The
// namespace no longer references it, so failures only leak a pair.
func (c *Context) removeInode(id inodeid.ID, kind inode.Kind) {
	handle, err := filetable.OpenHandle(c.table, id, kind)
	if err != nil {
		c.logger.Warn("opening displaced inode for unlink failed",
			"id", inodeid.Format(id), "error", err)
		return
	}
	handle.Get().Unlink()
	handle.Close()
	c.memo.clearID(id)
}

// canonical normalizes a path to the memo's key form: "/" joined
// components with a leading slash.
func canonical(path string) string {
	components := splitPath(path)
	if len(components) == 0 {
		return "/"
	}
	return "/" + strings.Join(components, "/")
}
