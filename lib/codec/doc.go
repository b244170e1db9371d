// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for all persisted
// VaultFS structures: inode metadata records and directory entry
// tables. Symlink targets are sealed as raw bytes, not CBOR.
//
// Encoding is Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The
// same logical record always produces identical plaintext bytes
// before sealing; the sealed form still differs on every write
// because each seal draws a fresh random nonce.
//
// Decoding accepts standard CBOR and ignores unknown fields, so older
// vaults remain readable after a field is added.
package codec
