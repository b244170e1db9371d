// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/vaultfs-foundation/vaultfs/lib/filetable"
	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// ContextOptions configures a mount context.
type ContextOptions struct {
	// Table is the file table for this mount.
	Table *filetable.Table

	// Logger receives operation diagnostics (non-empty directory
	// removals, swallowed unlink errors). If nil, slog.Default().
	Logger *slog.Logger
}

// Context is the per-mount state: the file table, the root id, the
// flags word, and the path memo. One instance per mount, passed
// explicitly into every operation; there is no process-wide state.
type Context struct {
	table  *filetable.Table
	rootID inodeid.ID
	memo   *pathMemo
	logger *slog.Logger
}

// NewContext creates the mount context. On a fresh vault (and a
// writable mount) the root directory inode is created and
// initialized; on a read-only mount a missing root is an error.
func NewContext(options ContextOptions) (*Context, error) {
	if options.Table == nil {
		return nil, fmt.Errorf("table is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	c := &Context{
		table:  options.Table,
		rootID: inodeid.Root(),
		memo:   newPathMemo(),
		logger: options.Logger,
	}

	root, err := c.table.OpenAs(c.rootID, inode.KindDirectory)
	switch {
	case err == nil:
		c.table.Close(root)

	case errors.Is(err, inode.ErrNotFound):
		if c.table.IsReadOnly() {
			return nil, fmt.Errorf("vault has no root directory and the mount is read-only: %w", err)
		}
		root, err = c.table.CreateAs(c.rootID, inode.KindDirectory)
		if err != nil {
			return nil, fmt.Errorf("creating root directory: %w", err)
		}
		if err := root.InitializeEmpty(unix.S_IFDIR|0o755, 0, 0); err != nil {
			c.table.Close(root)
			return nil, fmt.Errorf("initializing root directory: %w", err)
		}
		c.table.Close(root)

	default:
		return nil, fmt.Errorf("opening root directory: %w", err)
	}

	return c, nil
}

// Table returns the mount's file table.
func (c *Context) Table() *filetable.Table { return c.table }

// Close tears the mount down: the closed list drains into the
// finalizer, leaked references are reclaimed, and the finalizer stops
// only after every node is gone.
func (c *Context) Close() {
	c.table.Shutdown()
}

// GC drains cold nodes to the finalizer and waits for it to go idle.
func (c *Context) GC() {
	c.table.GC()
}
