// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package filetable

import (
	"errors"
	"testing"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
)

func TestHandleCloseReturnsNodeToTable(t *testing.T) {
	table := newTestTable(t, 0)
	id := createClosed(t, table, inode.KindRegular)

	handle, err := OpenHandle(table, id, inode.KindRegular)
	if err != nil {
		t.Fatal(err)
	}
	handle.Close()

	table.mu.Lock()
	refcount := table.live[id].refcount
	table.mu.Unlock()
	if refcount != 0 {
		t.Errorf("refcount = %d after handle close, want 0", refcount)
	}
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	table := newTestTable(t, 0)
	id := createClosed(t, table, inode.KindRegular)

	handle, err := OpenHandle(table, id, inode.KindRegular)
	if err != nil {
		t.Fatal(err)
	}
	handle.Close()
	handle.Close()

	table.mu.Lock()
	refcount := table.live[id].refcount
	table.mu.Unlock()
	if refcount != 0 {
		t.Errorf("refcount = %d after double close, want 0", refcount)
	}
}

func TestHandleReleaseKeepsReference(t *testing.T) {
	table := newTestTable(t, 0)
	id := createClosed(t, table, inode.KindRegular)

	handle, err := OpenHandle(table, id, inode.KindRegular)
	if err != nil {
		t.Fatal(err)
	}
	node := handle.Release()
	handle.Close() // owns nothing now

	table.mu.Lock()
	refcount := table.live[id].refcount
	table.mu.Unlock()
	if refcount != 1 {
		t.Errorf("refcount = %d after release, want 1 (caller owns it)", refcount)
	}

	// The release path re-wraps and closes.
	NewHandle(table, node).Close()

	table.mu.Lock()
	refcount = table.live[id].refcount
	table.mu.Unlock()
	if refcount != 0 {
		t.Errorf("refcount = %d after re-wrap close, want 0", refcount)
	}
}

func TestHandleResetSwapsNodes(t *testing.T) {
	table := newTestTable(t, 0)
	outerID := createClosed(t, table, inode.KindDirectory)
	innerID := createClosed(t, table, inode.KindDirectory)

	handle, err := OpenHandle(table, outerID, inode.KindDirectory)
	if err != nil {
		t.Fatal(err)
	}
	inner, err := table.OpenAs(innerID, inode.KindDirectory)
	if err != nil {
		t.Fatal(err)
	}
	handle.Reset(inner)

	table.mu.Lock()
	outerRef := table.live[outerID].refcount
	innerRef := table.live[innerID].refcount
	table.mu.Unlock()
	if outerRef != 0 {
		t.Errorf("outer refcount = %d after reset, want 0", outerRef)
	}
	if innerRef != 1 {
		t.Errorf("inner refcount = %d after reset, want 1", innerRef)
	}
	handle.Close()
}

func TestTypedProjections(t *testing.T) {
	table := newTestTable(t, 0)
	dirID := createClosed(t, table, inode.KindDirectory)

	handle, err := OpenHandle(table, dirID, inode.KindDirectory)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	if _, err := handle.AsDirectory(); err != nil {
		t.Errorf("AsDirectory on a directory = %v", err)
	}
	if _, err := handle.AsRegular(); !errors.Is(err, inode.ErrWrongType) {
		t.Errorf("AsRegular on a directory = %v, want ErrWrongType", err)
	}
	if _, err := handle.AsSymlink(); !errors.Is(err, inode.ErrWrongType) {
		t.Errorf("AsSymlink on a directory = %v, want ErrWrongType", err)
	}
}
