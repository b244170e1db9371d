// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"
	"io"
	"os"

	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// BlockSize is the plaintext size of one data block. Each block is
// sealed independently, so a random-access read or write touches at
// most the blocks overlapping the requested range.
const BlockSize = 4096

// RegularFile is an inode holding byte content. The data file is a
// sequence of sealed blocks: every block before the tail is exactly
// BlockSize bytes of plaintext, the tail may be shorter. Block i
// starts at physical offset i × (BlockSize + overhead), which only
// holds because non-tail blocks are always full.
type RegularFile struct {
	base
	file *os.File
}

// Size returns the current logical file size.
func (r *RegularFile) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta.Size
}

// ReadAt reads up to len(p) bytes starting at off. Returns the number
// of bytes read; a read at or past EOF returns 0 with no error, and a
// read crossing EOF is truncated, matching what the kernel expects
// from a FUSE read.
func (r *RegularFile) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.meta.Size
	if off < 0 {
		return 0, fmt.Errorf("negative read offset %d", off)
	}
	if off >= size || len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > size {
		end = size
	}

	read := 0
	for blockIndex := off / BlockSize; blockIndex*BlockSize < end; blockIndex++ {
		block, err := r.readBlockLocked(blockIndex, size)
		if err != nil {
			return read, err
		}
		blockStart := blockIndex * BlockSize
		from := max64(off, blockStart)
		to := min64(end, blockStart+BlockSize)
		read += copy(p[from-off:to-off], block[from-blockStart:to-blockStart])
	}

	r.touchAtimeLocked()
	return read, nil
}

// WriteAt writes p at off, extending the file (zero-filling any gap)
// as needed.
func (r *RegularFile) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative write offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// A write past EOF first zero-fills the gap so every non-tail
	// block stays exactly BlockSize of plaintext.
	if off > r.meta.Size {
		if err := r.writeRangeLocked(r.meta.Size, nil, off-r.meta.Size); err != nil {
			return 0, err
		}
		r.meta.Size = off
	}

	if err := r.writeRangeLocked(off, p, int64(len(p))); err != nil {
		return 0, err
	}
	if off+int64(len(p)) > r.meta.Size {
		r.meta.Size = off + int64(len(p))
		r.metaDirty = true
	}
	r.touchMtimeLocked()
	return len(p), nil
}

// Truncate changes the logical size. Growing zero-fills; shrinking
// reseals the new tail block and cuts the data file.
func (r *RegularFile) Truncate(newSize int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newSize < 0 {
		return fmt.Errorf("negative truncate size %d", newSize)
	}
	oldSize := r.meta.Size
	switch {
	case newSize == oldSize:
		return nil

	case newSize > oldSize:
		if err := r.writeRangeLocked(oldSize, nil, newSize-oldSize); err != nil {
			return err
		}

	default:
		sealedBlock := int64(BlockSize + r.store.keyring.Overhead())
		fullBlocks := newSize / BlockSize
		tail := newSize % BlockSize
		physicalEnd := fullBlocks * sealedBlock
		if tail > 0 {
			block, err := r.readBlockLocked(fullBlocks, oldSize)
			if err != nil {
				return err
			}
			if err := r.writeBlockLocked(fullBlocks, block[:tail]); err != nil {
				return err
			}
			physicalEnd += tail + int64(r.store.keyring.Overhead())
		}
		if err := r.file.Truncate(physicalEnd); err != nil {
			return fmt.Errorf("truncating data file for %s: %w", inodeid.Format(r.id), err)
		}
	}

	r.meta.Size = newSize
	r.metaDirty = true
	r.touchMtimeLocked()
	return nil
}

// Flush persists dirty metadata. Block writes are synchronous, so
// data needs no separate flush step.
func (r *RegularFile) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushMetaLocked()
}

// Fsync flushes and then syncs the data file to stable storage.
func (r *RegularFile) Fsync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushMetaLocked(); err != nil {
		return err
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("syncing data file for %s: %w", inodeid.Format(r.id), err)
	}
	return nil
}

// Close flushes and releases the descriptor.
func (r *RegularFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	flushErr := r.flushMetaLocked()
	if err := r.file.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	return flushErr
}

// writeRangeLocked writes length bytes at off, taking content from p
// (or zeroes when p is nil). The range must not start past the
// current size plus previously written blocks; callers pre-fill gaps.
func (r *RegularFile) writeRangeLocked(off int64, p []byte, length int64) error {
	end := off + length
	size := r.meta.Size

	for blockIndex := off / BlockSize; blockIndex*BlockSize < end; blockIndex++ {
		blockStart := blockIndex * BlockSize

		currentLen := blockPlainLen(size, blockIndex)
		var block []byte
		if currentLen > 0 {
			existing, err := r.readBlockLocked(blockIndex, size)
			if err != nil {
				return err
			}
			block = existing
		}

		newLen := min64(end-blockStart, BlockSize)
		if int64(len(block)) > newLen {
			newLen = int64(len(block))
		}
		for int64(len(block)) < newLen {
			block = append(block, 0)
		}

		if p != nil {
			from := max64(off, blockStart)
			to := min64(end, blockStart+BlockSize)
			copy(block[from-blockStart:to-blockStart], p[from-off:to-off])
		}

		if err := r.writeBlockLocked(blockIndex, block); err != nil {
			return err
		}
	}
	return nil
}

// readBlockLocked reads and opens one sealed block. size is the
// logical file size governing the block's plaintext length.
func (r *RegularFile) readBlockLocked(blockIndex, size int64) ([]byte, error) {
	plainLen := blockPlainLen(size, blockIndex)
	if plainLen <= 0 {
		return nil, nil
	}
	overhead := int64(r.store.keyring.Overhead())
	sealed := make([]byte, plainLen+overhead)
	physicalOff := blockIndex * (BlockSize + overhead)
	if _, err := r.file.ReadAt(sealed, physicalOff); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading block %d of %s: %w", blockIndex, inodeid.Format(r.id), err)
	}
	plain, err := r.store.keyring.OpenBlock(r.id, uint64(blockIndex), sealed)
	if err != nil {
		return nil, fmt.Errorf("block %d of %s: %w", blockIndex, inodeid.Format(r.id), err)
	}
	return plain, nil
}

// writeBlockLocked seals and writes one block in place.
func (r *RegularFile) writeBlockLocked(blockIndex int64, plaintext []byte) error {
	sealed, err := r.store.keyring.SealBlock(r.id, uint64(blockIndex), plaintext)
	if err != nil {
		return fmt.Errorf("sealing block %d of %s: %w", blockIndex, inodeid.Format(r.id), err)
	}
	overhead := int64(r.store.keyring.Overhead())
	physicalOff := blockIndex * (BlockSize + overhead)
	if _, err := r.file.WriteAt(sealed, physicalOff); err != nil {
		return fmt.Errorf("writing block %d of %s: %w", blockIndex, inodeid.Format(r.id), err)
	}
	return nil
}

// blockPlainLen is the plaintext length of block i in a file of the
// given logical size: BlockSize for every block before the tail, the
// remainder for the tail, zero past it.
func blockPlainLen(size, blockIndex int64) int64 {
	remaining := size - blockIndex*BlockSize
	if remaining <= 0 {
		return 0
	}
	if remaining > BlockSize {
		return BlockSize
	}
	return remaining
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
