// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package filetable

import (
	"fmt"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// Handle is a scoped owner of an opened node. Whatever path a
// compound operation takes out of scope — success, error, early
// return — closing the handle returns the node to the table exactly
// once. A released or reset handle owns nothing and Close is a no-op.
type Handle struct {
	table *Table
	node  inode.Node
}

// NewHandle wraps an already-counted node. Used by the release path,
// which re-adopts the raw node a kernel file handle carried.
func NewHandle(table *Table, node inode.Node) *Handle {
	return &Handle{table: table, node: node}
}

// OpenHandle opens id via the table and wraps the node.
func OpenHandle(table *Table, id inodeid.ID, kind inode.Kind) (*Handle, error) {
	node, err := table.OpenAs(id, kind)
	if err != nil {
		return nil, err
	}
	return &Handle{table: table, node: node}, nil
}

// CreateHandle creates id via the table and wraps the node.
func CreateHandle(table *Table, id inodeid.ID, kind inode.Kind) (*Handle, error) {
	node, err := table.CreateAs(id, kind)
	if err != nil {
		return nil, err
	}
	return &Handle{table: table, node: node}, nil
}

// Get returns the owned node, or nil after Release/Reset(nil).
func (h *Handle) Get() inode.Node { return h.node }

// AsRegular projects the node to its regular-file capabilities.
func (h *Handle) AsRegular() (*inode.RegularFile, error) {
	file, ok := h.node.(*inode.RegularFile)
	if !ok {
		return nil, fmt.Errorf("want %s, have %s: %w",
			inode.KindRegular, kindOf(h.node), inode.ErrWrongType)
	}
	return file, nil
}

// AsDirectory projects the node to its directory capabilities.
func (h *Handle) AsDirectory() (*inode.Directory, error) {
	directory, ok := h.node.(*inode.Directory)
	if !ok {
		return nil, fmt.Errorf("want %s, have %s: %w",
			inode.KindDirectory, kindOf(h.node), inode.ErrWrongType)
	}
	return directory, nil
}

// AsSymlink projects the node to its symlink capabilities.
func (h *Handle) AsSymlink() (*inode.Symlink, error) {
	symlink, ok := h.node.(*inode.Symlink)
	if !ok {
		return nil, fmt.Errorf("want %s, have %s: %w",
			inode.KindSymlink, kindOf(h.node), inode.ErrWrongType)
	}
	return symlink, nil
}

// Reset closes the current node (if any) and adopts node, which may
// be nil.
func (h *Handle) Reset(node inode.Node) {
	if h.node != nil {
		h.table.Close(h.node)
	}
	h.node = node
}

// Release relinquishes ownership without closing: the caller takes
// over the reference. Used to hand the raw node out as a kernel file
// handle; the release path re-wraps it with NewHandle.
func (h *Handle) Release() inode.Node {
	node := h.node
	h.node = nil
	return node
}

// Close returns the node to the table. Idempotent, and safe on a
// released handle.
func (h *Handle) Close() {
	h.Reset(nil)
}

func kindOf(node inode.Node) inode.Kind {
	if node == nil {
		return inode.Kind(0xff)
	}
	return node.Kind()
}
