// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for key material.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP) where the kernel
// supports it. On Close, the memory is zeroed, unlocked, and unmapped.
// Because the memory is invisible to the garbage collector it is never
// copied or relocated, so closing the buffer really does destroy the
// only copy.
//
// The vault master key and every key HKDF derives from it are held
// in a Buffer while in use. Key bytes that pass through ordinary heap
// slices (vault creation, HKDF output) are zeroed once no longer
// needed.
package secret
