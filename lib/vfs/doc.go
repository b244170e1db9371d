// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfs implements the per-mount filesystem context: the path
// walker that turns textual paths into inode handles, the memo that
// shortcuts repeated walks, and the high-level operations the FUSE
// bridge calls.
//
// Operations return syscall.Errno (zero on success); the bridge hands
// that straight to the kernel. The memo is advisory: a hit only skips
// directory reads, never the verification of the final hop, so a
// stale entry costs a read or a spurious ENOENT on a path that a
// concurrent mutation already invalidated — it never resolves a path
// to the wrong inode.
package vfs
