// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package inodeid defines the inode identifier: a fixed-width opaque
// byte string generated uniformly at random when an inode is created.
// The id is the cache key in the file table and the input to the
// obscured on-disk pathname derivation. Collision probability across
// 32 random bytes is cryptographically negligible.
package inodeid
