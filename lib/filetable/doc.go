// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package filetable implements the identity and lifetime cache over
// inode ids.
//
// The table guarantees at most one live node per id across all
// goroutines, reference-counts nodes across concurrent operations,
// parks cold nodes on a bounded FIFO so an immediate reopen gets the
// identical object back, and hands eviction work to an asynchronous
// finalizer so the caller thread never waits on storage I/O to close
// somebody else's file.
//
// Deletion ordering is enforced here too: an unlinked node's on-disk
// pair is removed by the finalizer only after its data has been
// flushed and the last reference dropped.
package filetable
