// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"
	"os"

	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// Symlink is an inode whose data file holds a sealed target path.
type Symlink struct {
	base
	target      string
	targetDirty bool
}

// Get returns the link target.
func (s *Symlink) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchAtimeLocked()
	return s.target
}

// Set replaces the link target.
func (s *Symlink) Set(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.meta.Size = int64(len(target))
	s.targetDirty = true
	s.touchMtimeLocked()
	s.metaDirty = true
}

// Flush writes the sealed target if dirty, then the metadata.
func (s *Symlink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushTargetLocked(); err != nil {
		return err
	}
	return s.flushMetaLocked()
}

// Fsync is Flush; the target write is already synchronous.
func (s *Symlink) Fsync() error {
	return s.Flush()
}

// Close flushes everything; symlinks hold no descriptor.
func (s *Symlink) Close() error {
	return s.Flush()
}

func (s *Symlink) flushTargetLocked() error {
	if !s.targetDirty || s.unlinked {
		return nil
	}
	sealed, err := s.store.keyring.SealBlock(s.id, 0, []byte(s.target))
	if err != nil {
		return fmt.Errorf("sealing target of %s: %w", inodeid.Format(s.id), err)
	}
	if err := os.WriteFile(s.store.dataPath(s.id), sealed, 0o600); err != nil {
		return fmt.Errorf("writing target of %s: %w", inodeid.Format(s.id), err)
	}
	s.targetDirty = false
	return nil
}

// loadTarget reads the sealed target. Zero-length means a link whose
// target has not been set yet.
func (s *Symlink) loadTarget() error {
	sealed, err := os.ReadFile(s.store.dataPath(s.id))
	if err != nil {
		return fmt.Errorf("reading target of %s: %w", inodeid.Format(s.id), err)
	}
	if len(sealed) == 0 {
		s.target = ""
		return nil
	}
	plain, err := s.store.keyring.OpenBlock(s.id, 0, sealed)
	if err != nil {
		return fmt.Errorf("opening target of %s: %w", inodeid.Format(s.id), err)
	}
	s.target = string(plain)
	return nil
}
