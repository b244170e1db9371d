// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package vaultconfig manages the vault descriptor: a YAML file at
// the vault root carrying the format version, the flags fixed at
// creation time, and the master key sealed with age under a
// passphrase (scrypt recipient).
//
// The descriptor is the only file in a vault with a recognizable
// format; everything else is sealed blobs under obscured names.
// Unlocking returns the master key in guarded memory without
// touching any inode data, so a wrong passphrase fails fast.
package vaultconfig
