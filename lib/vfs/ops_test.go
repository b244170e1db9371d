// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vaultfs-foundation/vaultfs/lib/blockcrypt"
	"github.com/vaultfs-foundation/vaultfs/lib/clock"
	"github.com/vaultfs-foundation/vaultfs/lib/filetable"
	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/secret"
	"github.com/vaultfs-foundation/vaultfs/lib/testutil"
)

var testStart = time.Unix(1735689600, 0) // 2025-01-01T00:00:00Z

func newTestContext(t *testing.T, flags filetable.Flags) *Context {
	t.Helper()
	key := make([]byte, blockcrypt.KeySize)
	for i := range key {
		key[i] = byte(i ^ 0x5a)
	}
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		t.Fatal(err)
	}
	keyring, err := blockcrypt.NewKeyring(buffer, flags&filetable.FlagNoAuthentication == 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keyring.Close() })

	store, err := inode.NewStore(inode.StoreOptions{
		Root:      t.TempDir(),
		Keyring:   keyring,
		Clock:     clock.NewFake(testStart),
		StoreTime: flags&filetable.FlagStoreTime != 0,
	})
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table, err := filetable.NewTable(filetable.TableOptions{
		Store:  store,
		Flags:  flags,
		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	context, err := NewContext(ContextOptions{Table: table, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(context.Close)
	return context
}

// newReadOnlyContext builds a vault with content, tears it down, and
// reopens it read-only.
func newReadOnlyContext(t *testing.T) *Context {
	t.Helper()
	key := make([]byte, blockcrypt.KeySize)
	for i := range key {
		key[i] = byte(i ^ 0x5a)
	}
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	makeContext := func(flags filetable.Flags) *Context {
		keyCopy := append([]byte(nil), key...)
		buffer, err := secret.NewFromBytes(keyCopy)
		if err != nil {
			t.Fatal(err)
		}
		keyring, err := blockcrypt.NewKeyring(buffer, true)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { keyring.Close() })
		store, err := inode.NewStore(inode.StoreOptions{
			Root:    root,
			Keyring: keyring,
			Clock:   clock.NewFake(testStart),
		})
		if err != nil {
			t.Fatal(err)
		}
		table, err := filetable.NewTable(filetable.TableOptions{
			Store:  store,
			Flags:  flags,
			Logger: logger,
		})
		if err != nil {
			t.Fatal(err)
		}
		context, err := NewContext(ContextOptions{Table: table, Logger: logger})
		if err != nil {
			t.Fatal(err)
		}
		return context
	}

	writable := makeContext(0)
	if errno := writable.Mkdir("/dir", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	node, errno := writable.CreateFile("/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	if _, err := node.(*inode.RegularFile).WriteAt([]byte("frozen"), 0); err != nil {
		t.Fatal(err)
	}
	writable.ReleaseNode(node)
	writable.Close()

	readonly := makeContext(filetable.FlagReadOnly)
	t.Cleanup(readonly.Close)
	return readonly
}

func listNames(t *testing.T, context *Context, path string) []string {
	t.Helper()
	var names []string
	if errno := context.ReadDir(path, func(entry inode.DirEntry) bool {
		names = append(names, entry.Name)
		return true
	}); errno != 0 {
		t.Fatalf("ReadDir(%s) = %v", path, errno)
	}
	return names
}

// Scenario 1: mkdir chain, create, readdir, getattr.
func TestMkdirCreateReaddirGetattr(t *testing.T) {
	context := newTestContext(t, 0)

	if errno := context.Mkdir("/a", 0o755, 1000, 1000); errno != 0 {
		t.Fatalf("mkdir /a = %v", errno)
	}
	if errno := context.Mkdir("/a/b", 0o755, 1000, 1000); errno != 0 {
		t.Fatalf("mkdir /a/b = %v", errno)
	}
	node, errno := context.CreateFile("/a/b/f", 0o644, 1000, 1000)
	if errno != 0 {
		t.Fatalf("create /a/b/f = %v", errno)
	}
	context.ReleaseNode(node)

	names := listNames(t, context, "/a/b")
	if len(names) != 1 || names[0] != "f" {
		t.Errorf("readdir /a/b = %v, want [f]", names)
	}

	attr, errno := context.GetAttr("/a/b/f")
	if errno != 0 {
		t.Fatalf("getattr /a/b/f = %v", errno)
	}
	if attr.Mode != unix.S_IFREG|0o644 {
		t.Errorf("mode = %o, want %o", attr.Mode, unix.S_IFREG|0o644)
	}
	if attr.UID != 1000 || attr.GID != 1000 {
		t.Errorf("uid/gid = %d/%d, want 1000/1000", attr.UID, attr.GID)
	}
}

// Scenario 2: write through a handle, release, reopen, read back.
func TestWriteReleaseReopenRead(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	file := node.(*inode.RegularFile)
	if _, err := file.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatal(err)
	}
	if errno := context.FlushNode(node); errno != 0 {
		t.Fatal(errno)
	}
	if errno := context.ReleaseNode(node); errno != 0 {
		t.Fatal(errno)
	}

	reopened, errno := context.Open("/f", false, false)
	if errno != 0 {
		t.Fatal(errno)
	}
	defer context.ReleaseNode(reopened)

	out := make([]byte, 5)
	n, err := reopened.(*inode.RegularFile).ReadAt(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || !bytes.Equal(out, []byte("hello")) {
		t.Errorf("read %q, want \"hello\"", out[:n])
	}
}

// Scenario 3: rename a directory; old path gone, contents reachable
// under the new path, memo evicted.
func TestRenameDirectoryMovesSubtree(t *testing.T) {
	context := newTestContext(t, 0)

	for _, dir := range []string{"/a", "/a/b"} {
		if errno := context.Mkdir(dir, 0o755, 0, 0); errno != 0 {
			t.Fatal(errno)
		}
	}
	node, errno := context.CreateFile("/a/b/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	// Warm the memo through /a/b.
	if _, errno := context.GetAttr("/a/b/f"); errno != 0 {
		t.Fatal(errno)
	}
	if context.memo.len() == 0 {
		t.Fatal("walk did not populate the memo")
	}

	if errno := context.Rename("/a/b", "/a/c"); errno != 0 {
		t.Fatalf("rename = %v", errno)
	}

	if _, errno := context.GetAttr("/a/b"); errno != syscall.ENOENT {
		t.Errorf("getattr /a/b after rename = %v, want ENOENT", errno)
	}
	if _, errno := context.GetAttr("/a/c/f"); errno != 0 {
		t.Errorf("getattr /a/c/f after rename = %v, want success", errno)
	}
	if _, ok := context.memo.get("/a/b"); ok {
		t.Error("memo entry for /a/b survived the rename")
	}
}

// Scenario 4 through the operations layer: create and release 400
// distinct files, every one succeeding. The closed list is not
// visible from this package; its bound is asserted by
// TestEvictionBoundsClosedList in the filetable package.
func TestManyFilesCreateRelease(t *testing.T) {
	context := newTestContext(t, 0)

	for i := range 400 {
		path := "/f" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26)) + string(rune('a'+i/676))
		node, errno := context.CreateFile(path, 0o644, 0, 0)
		if errno != 0 {
			t.Fatalf("create %s = %v", path, errno)
		}
		context.ReleaseNode(node)
	}
	// The root directory node is also cycled; regardless, the bound
	// holds after every close by construction. GC empties the rest.
	context.GC()
}

// Scenario 5 lives in the filetable package (concurrent open/close of
// one id). Here: concurrent walks through shared directories.
func TestConcurrentWalks(t *testing.T) {
	context := newTestContext(t, 0)

	if errno := context.Mkdir("/shared", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	node, errno := context.CreateFile("/shared/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if _, errno := context.GetAttr("/shared/f"); errno != 0 {
					t.Errorf("concurrent getattr = %v", errno)
					return
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	testutil.RequireClosed(t, done, 30*time.Second, "concurrent walks")
}

// Scenario 6: read-only mount rejects every mutation, reads work.
func TestReadOnlyMount(t *testing.T) {
	context := newReadOnlyContext(t)

	if _, errno := context.GetAttr("/f"); errno != 0 {
		t.Errorf("getattr on read-only mount = %v", errno)
	}
	node, errno := context.Open("/f", false, false)
	if errno != 0 {
		t.Fatalf("read-only open = %v", errno)
	}
	out := make([]byte, 6)
	if _, err := node.(*inode.RegularFile).ReadAt(out, 0); err != nil {
		t.Errorf("read on read-only mount failed: %v", err)
	}
	context.ReleaseNode(node)

	checks := map[string]syscall.Errno{
		"create":   func() syscall.Errno { _, e := context.CreateFile("/new", 0o644, 0, 0); return e }(),
		"mkdir":    context.Mkdir("/newdir", 0o755, 0, 0),
		"unlink":   context.RemovePath("/f"),
		"rename":   context.Rename("/f", "/g"),
		"link":     context.Link("/f", "/g"),
		"symlink":  context.Symlink("/f", "/l", 0, 0),
		"truncate": context.Truncate("/f", 0),
		"chmod":    context.Chmod("/f", 0o600),
		"chown":    context.Chown("/f", 1, 1),
		"utimens":  context.Utimens("/f", nil, nil),
		"setxattr": context.SetXattr("/f", "user.a", []byte("v")),
		"openw": func() syscall.Errno {
			_, e := context.Open("/f", true, false)
			return e
		}(),
	}
	for op, errno := range checks {
		if errno != syscall.EROFS {
			t.Errorf("%s on read-only mount = %v, want EROFS", op, errno)
		}
	}
}

func TestRemoveThenGetattrIsNoent(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/doomed", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if errno := context.RemovePath("/doomed"); errno != 0 {
		t.Fatalf("remove = %v", errno)
	}
	if _, errno := context.GetAttr("/doomed"); errno != syscall.ENOENT {
		t.Errorf("getattr after remove = %v, want ENOENT", errno)
	}
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	context := newTestContext(t, 0)

	if errno := context.Mkdir("/full", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	node, errno := context.CreateFile("/full/child", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if errno := context.RemovePath("/full"); errno != syscall.ENOTEMPTY {
		t.Errorf("remove of non-empty directory = %v, want ENOTEMPTY", errno)
	}

	// After the child goes, the directory can.
	if errno := context.RemovePath("/full/child"); errno != 0 {
		t.Fatal(errno)
	}
	if errno := context.RemovePath("/full"); errno != 0 {
		t.Errorf("remove of emptied directory = %v", errno)
	}
}

func TestRemoveRootFails(t *testing.T) {
	context := newTestContext(t, 0)
	if errno := context.RemovePath("/"); errno != syscall.EPERM {
		t.Errorf("remove of / = %v, want EPERM", errno)
	}
}

func TestRenameOntoDirectoryFails(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/file", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)
	if errno := context.Mkdir("/dir", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}

	if errno := context.Rename("/file", "/dir"); errno != syscall.EISDIR {
		t.Errorf("rename file onto directory = %v, want EISDIR", errno)
	}
}

func TestRenameTypeMismatchFails(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/file", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)
	if errno := context.Symlink("/file", "/link", 0, 0); errno != 0 {
		t.Fatal(errno)
	}

	if errno := context.Rename("/file", "/link"); errno != syscall.EINVAL {
		t.Errorf("rename regular onto symlink = %v, want EINVAL", errno)
	}
}

func TestRenameSameIDIsNoop(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/orig", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)
	if errno := context.Link("/orig", "/alias"); errno != 0 {
		t.Fatal(errno)
	}

	if errno := context.Rename("/orig", "/alias"); errno != 0 {
		t.Errorf("rename between two names of one inode = %v, want success", errno)
	}
	// Both names still present (no-op, nothing removed).
	if _, errno := context.GetAttr("/orig"); errno != 0 {
		t.Error("source name vanished after same-id rename")
	}
	if _, errno := context.GetAttr("/alias"); errno != 0 {
		t.Error("destination name vanished after same-id rename")
	}
}

func TestRenameDisplacesAndUnlinksTarget(t *testing.T) {
	context := newTestContext(t, 0)

	for _, path := range []string{"/src", "/dst"} {
		node, errno := context.CreateFile(path, 0o644, 0, 0)
		if errno != 0 {
			t.Fatal(errno)
		}
		context.ReleaseNode(node)
	}

	srcAttr, errno := context.GetAttr("/src")
	if errno != 0 {
		t.Fatal(errno)
	}

	if errno := context.Rename("/src", "/dst"); errno != 0 {
		t.Fatalf("displacing rename = %v", errno)
	}
	if _, errno := context.GetAttr("/src"); errno != syscall.ENOENT {
		t.Errorf("getattr /src after rename = %v, want ENOENT", errno)
	}
	dstAttr, errno := context.GetAttr("/dst")
	if errno != 0 {
		t.Fatal(errno)
	}
	if dstAttr.Mode != srcAttr.Mode || dstAttr.Size != srcAttr.Size {
		t.Error("destination does not carry the source's attributes")
	}
}

func TestLinkOnDirectoryFails(t *testing.T) {
	context := newTestContext(t, 0)
	if errno := context.Mkdir("/dir", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	if errno := context.Link("/dir", "/alias"); errno != syscall.EPERM {
		t.Errorf("link of a directory = %v, want EPERM", errno)
	}
}

func TestLinkBumpsNLink(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/one", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)
	if errno := context.Link("/one", "/two"); errno != 0 {
		t.Fatal(errno)
	}

	attr, errno := context.GetAttr("/two")
	if errno != 0 {
		t.Fatal(errno)
	}
	if attr.NLink != 2 {
		t.Errorf("nlink = %d after link, want 2", attr.NLink)
	}

	// Removing one name keeps the inode reachable via the other.
	if errno := context.RemovePath("/one"); errno != 0 {
		t.Fatal(errno)
	}
	if _, errno := context.GetAttr("/two"); errno != 0 {
		t.Error("inode vanished while a second link remained")
	}
}

func TestSymlinkReadlinkRoundTrip(t *testing.T) {
	context := newTestContext(t, 0)

	if errno := context.Symlink("/somewhere/else", "/link", 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	target, errno := context.Readlink("/link")
	if errno != 0 {
		t.Fatal(errno)
	}
	if target != "/somewhere/else" {
		t.Errorf("readlink = %q, want /somewhere/else", target)
	}

	if errno := context.Mkdir("/dir", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	if _, errno := context.Readlink("/dir"); errno != syscall.EINVAL {
		t.Errorf("readlink of a directory = %v, want EINVAL", errno)
	}
}

func TestCreateCollisionFails(t *testing.T) {
	context := newTestContext(t, 0)

	node, errno := context.CreateFile("/dup", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if _, errno := context.CreateFile("/dup", 0o644, 0, 0); errno != syscall.EEXIST {
		t.Errorf("colliding create = %v, want EEXIST", errno)
	}
	// The failed create must not have leaked an orphan entry.
	names := listNames(t, context, "/")
	count := 0
	for _, name := range names {
		if name == "dup" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("dup listed %d times, want 1", count)
	}
}

func TestOpenOnDirectoryFails(t *testing.T) {
	context := newTestContext(t, 0)
	if errno := context.Mkdir("/dir", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	if _, errno := context.Open("/dir", false, false); errno != syscall.EISDIR {
		t.Errorf("open of a directory = %v, want EISDIR", errno)
	}
	if _, errno := context.OpenDir("/dir"); errno != 0 {
		t.Error("opendir of a directory failed")
	}
}

func TestWalkThroughFileFails(t *testing.T) {
	context := newTestContext(t, 0)
	node, errno := context.CreateFile("/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if _, errno := context.GetAttr("/f/child"); errno != syscall.ENOTDIR {
		t.Errorf("walk through a file = %v, want ENOTDIR", errno)
	}
}

func TestChmodChownUtimens(t *testing.T) {
	context := newTestContext(t, filetable.FlagStoreTime)

	node, errno := context.CreateFile("/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if errno := context.Chmod("/f", 0o4600); errno != 0 {
		t.Fatal(errno)
	}
	attr, _ := context.GetAttr("/f")
	if attr.Mode != unix.S_IFREG|0o600 {
		t.Errorf("mode after chmod = %o, want %o (type bits preserved, 0777 mask)", attr.Mode, unix.S_IFREG|0o600)
	}

	if errno := context.Chown("/f", 42, 43); errno != 0 {
		t.Fatal(errno)
	}
	attr, _ = context.GetAttr("/f")
	if attr.UID != 42 || attr.GID != 43 {
		t.Errorf("uid/gid after chown = %d/%d, want 42/43", attr.UID, attr.GID)
	}

	when := testStart.Add(48 * time.Hour)
	if errno := context.Utimens("/f", &when, &when); errno != 0 {
		t.Fatal(errno)
	}
	attr, _ = context.GetAttr("/f")
	if !attr.Mtime.Equal(when) || !attr.Atime.Equal(when) {
		t.Error("utimens did not set the requested times")
	}
}

func TestCaseFoldedLookup(t *testing.T) {
	context := newTestContext(t, filetable.FlagCaseFold)

	if errno := context.Mkdir("/Photos", 0o755, 0, 0); errno != 0 {
		t.Fatal(errno)
	}
	// Stored under the folded name; any casing resolves.
	if _, errno := context.GetAttr("/photos"); errno != 0 {
		t.Errorf("folded lookup of /photos = %v", errno)
	}
	if _, errno := context.GetAttr("/PHOTOS"); errno != 0 {
		t.Errorf("folded lookup of /PHOTOS = %v", errno)
	}
}

func TestXattrOps(t *testing.T) {
	context := newTestContext(t, 0)
	node, errno := context.CreateFile("/f", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if errno := context.SetXattr("/f", "user.origin", []byte("vault")); errno != 0 {
		t.Fatal(errno)
	}
	value, errno := context.GetXattr("/f", "user.origin")
	if errno != 0 || string(value) != "vault" {
		t.Errorf("getxattr = %q/%v, want vault", value, errno)
	}
	names, errno := context.ListXattr("/f")
	if errno != 0 || len(names) != 1 || names[0] != "user.origin" {
		t.Errorf("listxattr = %v/%v", names, errno)
	}
	if errno := context.RemoveXattr("/f", "user.origin"); errno != 0 {
		t.Fatal(errno)
	}
	if _, errno := context.GetXattr("/f", "user.origin"); errno != syscall.ENODATA {
		t.Errorf("getxattr after remove = %v, want ENODATA", errno)
	}
}

func TestStatFS(t *testing.T) {
	context := newTestContext(t, 0)
	stat, errno := context.StatFS()
	if errno != 0 {
		t.Fatal(errno)
	}
	if stat.Bsize == 0 {
		t.Error("statfs returned zero block size")
	}
}

func TestMemoSpeedsRepeatedWalks(t *testing.T) {
	context := newTestContext(t, 0)

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if errno := context.Mkdir(dir, 0o755, 0, 0); errno != 0 {
			t.Fatal(errno)
		}
	}
	node, errno := context.CreateFile("/a/b/c/deep", 0o644, 0, 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	context.ReleaseNode(node)

	if _, errno := context.GetAttr("/a/b/c/deep"); errno != 0 {
		t.Fatal(errno)
	}
	// The walk memoized every non-terminal prefix.
	for _, prefix := range []string{"/a", "/a/b", "/a/b/c"} {
		if _, ok := context.memo.get(prefix); !ok {
			t.Errorf("prefix %s not memoized after a walk", prefix)
		}
	}

	// A second walk resolves through the memo and still verifies the
	// terminal hop.
	if _, errno := context.GetAttr("/a/b/c/deep"); errno != 0 {
		t.Error("memoized walk failed")
	}
}
