// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockcrypt implements the vault's key schedule and sealed
// blob format.
//
// The vault master key is the root of all derivation. HKDF-SHA256
// with domain-separated info strings produces a per-inode data key,
// a per-inode metadata key, and a vault-wide name-obscuring key.
// Changing any info string invalidates every vault sealed under it.
//
// Sealed blobs carry a version byte, a random 24-byte XChaCha20
// nonce, and the ciphertext. In authenticated mode (the default) the
// cipher is XChaCha20-Poly1305 and the AAD binds the blob to its
// inode id and chunk ordinal, so a blob moved between files or
// between positions within a file fails to open. With authentication
// disabled the same framing carries a plain XChaCha20 stream; the
// integrity check is forfeited by explicit user choice.
//
// On-disk file names are not derived from the inode id directly but
// from a keyed BLAKE3 hash of it, so the storage tree leaks nothing
// about id values even to an observer who can enumerate the vault.
package blockcrypt
