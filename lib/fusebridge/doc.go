// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package fusebridge adapts the vfs operations to the kernel via
// go-fuse. Each kernel inode is a thin node that knows nothing but
// its position in the tree; every operation re-derives the textual
// path and delegates to the mount's vfs.Context, which owns all
// caching and identity state.
//
// Open files carry the raw inode node in their file handle, exactly
// pairing the kernel's open/release: Open and Create take a counted
// reference out of the file table, Release returns it.
package fusebridge
