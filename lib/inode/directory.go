// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"
	"os"
	"sort"

	"github.com/vaultfs-foundation/vaultfs/lib/codec"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// DirEntry is one name in a directory: the id it resolves to and the
// kind recorded at entry creation.
type DirEntry struct {
	Name string
	ID   inodeid.ID
	Kind Kind
}

// entryRecord is the persisted form of one entry.
type entryRecord struct {
	ID   []byte `cbor:"i"`
	Kind uint8  `cbor:"k"`
}

// entryTable is the persisted form of the whole directory: a single
// sealed CBOR blob in the data file.
type entryTable struct {
	Entries map[string]entryRecord `cbor:"e"`
}

// Directory is an inode mapping names to child ids. The entry table
// lives in memory while the directory is open and is rewritten as one
// sealed blob on flush.
type Directory struct {
	base
	entries      map[string]DirEntry
	entriesDirty bool
}

// GetEntry looks up one name. The second result is false when the
// name is absent.
func (d *Directory) GetEntry(name string) (DirEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[name]
	return entry, ok
}

// AddEntry inserts a name. Returns false without modifying anything
// when the name already exists.
func (d *Directory) AddEntry(name string, id inodeid.ID, kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; exists {
		return false
	}
	d.entries[name] = DirEntry{Name: name, ID: id, Kind: kind}
	d.entriesDirty = true
	d.touchMtimeLocked()
	d.metaDirty = true
	return true
}

// RemoveEntry deletes a name. Returns false when the name is absent.
func (d *Directory) RemoveEntry(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; !exists {
		return false
	}
	delete(d.entries, name)
	d.entriesDirty = true
	d.touchMtimeLocked()
	d.metaDirty = true
	return true
}

// IterateEntries feeds each entry to fn in name order, stopping early
// when fn returns false.
func (d *Directory) IterateEntries(fn func(DirEntry) bool) {
	d.mu.Lock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, d.entries[name])
	}
	d.touchAtimeLocked()
	d.mu.Unlock()

	// fn runs outside the lock: a sink may re-enter the filesystem.
	for _, entry := range entries {
		if !fn(entry) {
			return
		}
	}
}

// Empty reports whether the directory has no entries.
func (d *Directory) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries) == 0
}

// Flush rewrites the sealed entry table if dirty, then the metadata.
func (d *Directory) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.flushEntriesLocked(); err != nil {
		return err
	}
	return d.flushMetaLocked()
}

// Fsync is Flush; the entry table write is already synchronous.
func (d *Directory) Fsync() error {
	return d.Flush()
}

// Close flushes everything; directories hold no descriptor.
func (d *Directory) Close() error {
	return d.Flush()
}

func (d *Directory) flushEntriesLocked() error {
	if !d.entriesDirty || d.unlinked {
		return nil
	}
	table := entryTable{Entries: make(map[string]entryRecord, len(d.entries))}
	for name, entry := range d.entries {
		table.Entries[name] = entryRecord{ID: append([]byte(nil), entry.ID[:]...), Kind: uint8(entry.Kind)}
	}
	encoded, err := codec.Marshal(&table)
	if err != nil {
		return fmt.Errorf("encoding entries of %s: %w", inodeid.Format(d.id), err)
	}
	sealed, err := d.store.keyring.SealBlock(d.id, 0, encoded)
	if err != nil {
		return fmt.Errorf("sealing entries of %s: %w", inodeid.Format(d.id), err)
	}
	if err := os.WriteFile(d.store.dataPath(d.id), sealed, 0o600); err != nil {
		return fmt.Errorf("writing entries of %s: %w", inodeid.Format(d.id), err)
	}
	d.meta.Size = int64(len(encoded))
	d.entriesDirty = false
	return nil
}

// loadEntries reads the sealed entry table. A zero-length data file
// is a freshly created directory with no entries.
func (d *Directory) loadEntries() error {
	sealed, err := os.ReadFile(d.store.dataPath(d.id))
	if err != nil {
		return fmt.Errorf("reading entries of %s: %w", inodeid.Format(d.id), err)
	}
	d.entries = make(map[string]DirEntry)
	if len(sealed) == 0 {
		return nil
	}
	encoded, err := d.store.keyring.OpenBlock(d.id, 0, sealed)
	if err != nil {
		return fmt.Errorf("opening entries of %s: %w", inodeid.Format(d.id), err)
	}
	var table entryTable
	if err := codec.Unmarshal(encoded, &table); err != nil {
		return fmt.Errorf("decoding entries of %s: %w", inodeid.Format(d.id), err)
	}
	for name, record := range table.Entries {
		if len(record.ID) != inodeid.Size {
			return fmt.Errorf("entry %q of %s has a %d-byte id", name, inodeid.Format(d.id), len(record.ID))
		}
		var id inodeid.ID
		copy(id[:], record.ID)
		d.entries[name] = DirEntry{Name: name, ID: id, Kind: Kind(record.Kind)}
	}
	return nil
}
