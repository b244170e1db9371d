// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package inode implements the encrypted on-disk inode objects.
//
// Each logical inode is a pair of files beneath the vault root: a
// data file and a metadata file, named by the keyed-BLAKE3 obscured
// form of the inode id. The metadata file holds one sealed CBOR
// record (mode, ownership, link count, size, timestamps, extended
// attributes). The data file layout depends on the inode kind:
// regular files are a sequence of independently sealed fixed-size
// blocks; a directory is a single sealed CBOR blob (the entry table)
// and a symlink is a single sealed blob of the raw link target.
//
// A node is the sole mutator of its persistent pair. Every node
// carries its own mutex; callers may share a node across goroutines
// for the duration of an open handle.
package inode
