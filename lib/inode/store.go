// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/vaultfs-foundation/vaultfs/lib/blockcrypt"
	"github.com/vaultfs-foundation/vaultfs/lib/clock"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Root is the vault directory holding the inode file pairs.
	Root string

	// Keyring seals and opens every blob and derives the obscured
	// storage names.
	Keyring *blockcrypt.Keyring

	// Clock stamps inode timestamps. If nil, clock.Real() is used.
	Clock clock.Clock

	// StoreTime persists atime/mtime/ctime eagerly. When false,
	// timestamp updates ride along with the next metadata change
	// instead of dirtying the record on their own.
	StoreTime bool
}

// Store is the inode factory: it maps ids to on-disk file pairs and
// constructs nodes of the right kind. The id never appears in the
// storage tree; file names come from the keyring's obscured
// derivation, sharded two levels deep to keep directories small.
type Store struct {
	root      string
	keyring   *blockcrypt.Keyring
	clock     clock.Clock
	storeTime bool
}

// NewStore creates a store over an existing vault directory.
func NewStore(options StoreOptions) (*Store, error) {
	if options.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if options.Keyring == nil {
		return nil, fmt.Errorf("keyring is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Store{
		root:      options.Root,
		keyring:   options.Keyring,
		clock:     options.Clock,
		storeTime: options.StoreTime,
	}, nil
}

// Open opens the on-disk pair for id as the given kind. Fails with
// ErrNotFound when the pair is absent.
func (s *Store) Open(id inodeid.ID, kind Kind) (Node, error) {
	if _, err := os.Stat(s.metaPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("inode %s: %w", inodeid.Format(id), ErrNotFound)
		}
		return nil, fmt.Errorf("stat metadata of %s: %w", inodeid.Format(id), err)
	}
	node, err := s.construct(id, kind)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Create creates a fresh on-disk pair for id. Fails with ErrExists
// when either file is already present. The returned node has empty
// metadata; the caller must InitializeEmpty it.
func (s *Store) Create(id inodeid.ID, kind Kind) (Node, error) {
	dir := filepath.Dir(s.metaPath(id))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating shard directory for %s: %w", inodeid.Format(id), err)
	}

	metaFile, err := os.OpenFile(s.metaPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("inode %s: %w", inodeid.Format(id), ErrExists)
		}
		return nil, fmt.Errorf("creating metadata of %s: %w", inodeid.Format(id), err)
	}
	metaFile.Close()

	dataFile, err := os.OpenFile(s.dataPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		os.Remove(s.metaPath(id))
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("inode %s: %w", inodeid.Format(id), ErrExists)
		}
		return nil, fmt.Errorf("creating data of %s: %w", inodeid.Format(id), err)
	}
	dataFile.Close()

	return s.constructFresh(id, kind)
}

// Remove deletes the on-disk pair. Missing files are not an error,
// so removing an already removed id succeeds.
func (s *Store) Remove(id inodeid.ID) error {
	var firstError error
	for _, path := range []string{s.dataPath(id), s.metaPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) && firstError == nil {
			firstError = fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return firstError
}

// Statfs reports filesystem statistics of the underlying vault
// directory.
func (s *Store) Statfs() (unix.Statfs_t, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		return unix.Statfs_t{}, fmt.Errorf("statfs %s: %w", s.root, err)
	}
	return stat, nil
}

// construct builds a node over an existing pair and loads its state.
func (s *Store) construct(id inodeid.ID, kind Kind) (Node, error) {
	b := base{id: id, kind: kind, store: s}
	if err := b.loadMeta(); err != nil {
		return nil, err
	}

	switch kind {
	case KindRegular:
		file, err := s.openDataFile(id)
		if err != nil {
			return nil, err
		}
		return &RegularFile{base: b, file: file}, nil

	case KindDirectory:
		directory := &Directory{base: b}
		if err := directory.loadEntries(); err != nil {
			return nil, err
		}
		return directory, nil

	case KindSymlink:
		symlink := &Symlink{base: b}
		if err := symlink.loadTarget(); err != nil {
			return nil, err
		}
		return symlink, nil
	}
	return nil, fmt.Errorf("inode %s: unknown kind %d", inodeid.Format(id), kind)
}

// constructFresh builds a node over a just-created (empty) pair
// without reading anything back.
func (s *Store) constructFresh(id inodeid.ID, kind Kind) (Node, error) {
	b := base{id: id, kind: kind, store: s}

	switch kind {
	case KindRegular:
		file, err := s.openDataFile(id)
		if err != nil {
			return nil, err
		}
		return &RegularFile{base: b, file: file}, nil

	case KindDirectory:
		return &Directory{base: b, entries: make(map[string]DirEntry)}, nil

	case KindSymlink:
		return &Symlink{base: b}, nil
	}
	return nil, fmt.Errorf("inode %s: unknown kind %d", inodeid.Format(id), kind)
}

// openDataFile opens the data file read-write, falling back to
// read-only when the vault itself is not writable.
func (s *Store) openDataFile(id inodeid.ID) (*os.File, error) {
	file, err := os.OpenFile(s.dataPath(id), os.O_RDWR, 0o600)
	if err != nil {
		file, err = os.Open(s.dataPath(id))
	}
	if err != nil {
		return nil, fmt.Errorf("opening data of %s: %w", inodeid.Format(id), err)
	}
	return file, nil
}

// metaPath returns the metadata file path for id.
func (s *Store) metaPath(id inodeid.ID) string {
	return s.shardPath(id) + ".vm"
}

// dataPath returns the data file path for id.
func (s *Store) dataPath(id inodeid.ID) string {
	return s.shardPath(id) + ".vd"
}

// shardPath is root/aa/bb/rest, from the hex of the obscured name.
func (s *Store) shardPath(id inodeid.ID) string {
	name := s.keyring.ObscureName(id)
	encoded := hex.EncodeToString(name[:])
	return filepath.Join(s.root, encoded[:2], encoded[2:4], encoded[4:])
}
