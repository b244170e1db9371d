// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package fusebridge

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/vaultfs-foundation/vaultfs/lib/vfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Context is the mount's filesystem context. The caller retains
	// ownership and must Close it after unmounting.
	Context *vfs.Context

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug enables go-fuse request tracing.
	Debug bool

	// Logger receives diagnostic messages. If nil, an error-level
	// stderr logger is used.
	Logger *slog.Logger
}

// Mount mounts the vault filesystem at the configured mountpoint.
// The caller must call Unmount on the returned server, then Close
// the context. The mountpoint directory is created if absent.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Context == nil {
		return nil, fmt.Errorf("context is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &pathNode{context: options.Context}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "vaultfs",
			Name:       "vaultfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("vault filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}
