// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vaultfs-foundation/vaultfs/lib/codec"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// Attr is a point-in-time snapshot of an inode's metadata.
type Attr struct {
	Kind  Kind
	Mode  uint32
	UID   uint32
	GID   uint32
	NLink uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// metaRecord is the persisted metadata, sealed as one CBOR blob in
// the inode's metadata file.
type metaRecord struct {
	Kind  uint8             `cbor:"k"`
	Mode  uint32            `cbor:"m"`
	UID   uint32            `cbor:"u"`
	GID   uint32            `cbor:"g"`
	NLink uint32            `cbor:"n"`
	Size  int64             `cbor:"s"`
	Atime int64             `cbor:"at"`
	Mtime int64             `cbor:"mt"`
	Ctime int64             `cbor:"ct"`
	Xattr map[string][]byte `cbor:"x,omitempty"`
}

// Node is the capability set common to all inode kinds. Concrete
// kinds are *RegularFile, *Directory, and *Symlink; project with a
// type assertion or filetable.Handle's AsRegular/AsDirectory/AsSymlink.
type Node interface {
	ID() inodeid.ID
	Kind() Kind
	Stat() Attr
	Flush() error
	Fsync() error
	Utimens(atime, mtime *time.Time)
	Mode() uint32
	SetMode(mode uint32)
	UID() uint32
	SetUID(uid uint32)
	GID() uint32
	SetGID(gid uint32)
	NLink() uint32
	SetNLink(nlink uint32)
	Unlink()
	IsUnlinked() bool
	InitializeEmpty(mode, uid, gid uint32) error
	GetXattr(name string) ([]byte, error)
	SetXattr(name string, value []byte) error
	ListXattr() []string
	RemoveXattr(name string) error

	// Close flushes pending state and releases file descriptors.
	// Called by the file table's finalizer, never directly by
	// operations.
	Close() error
}

// base carries the state shared by every inode kind. The mutex
// serializes all access to the metadata record and the data file;
// directory entry mutations are serialized by the same lock.
type base struct {
	id    inodeid.ID
	kind  Kind
	store *Store

	mu        sync.Mutex
	meta      metaRecord
	metaDirty bool
	unlinked  bool
}

func (b *base) ID() inodeid.ID { return b.id }
func (b *base) Kind() Kind     { return b.kind }

func (b *base) Stat() Attr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Attr{
		Kind:  b.kind,
		Mode:  b.meta.Mode,
		UID:   b.meta.UID,
		GID:   b.meta.GID,
		NLink: b.meta.NLink,
		Size:  b.meta.Size,
		Atime: time.Unix(0, b.meta.Atime),
		Mtime: time.Unix(0, b.meta.Mtime),
		Ctime: time.Unix(0, b.meta.Ctime),
	}
}

// InitializeEmpty stamps the metadata of a freshly created inode.
func (b *base) InitializeEmpty(mode, uid, gid uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.store.clock.Now().UnixNano()
	b.meta = metaRecord{
		Kind:  uint8(b.kind),
		Mode:  mode,
		UID:   uid,
		GID:   gid,
		NLink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	b.metaDirty = true
	return nil
}

func (b *base) Mode() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.Mode
}

func (b *base) SetMode(mode uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta.Mode = mode
	b.touchCtimeLocked()
	b.metaDirty = true
}

func (b *base) UID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.UID
}

func (b *base) SetUID(uid uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta.UID = uid
	b.touchCtimeLocked()
	b.metaDirty = true
}

func (b *base) GID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.GID
}

func (b *base) SetGID(gid uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta.GID = gid
	b.touchCtimeLocked()
	b.metaDirty = true
}

func (b *base) NLink() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.NLink
}

func (b *base) SetNLink(nlink uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta.NLink = nlink
	b.touchCtimeLocked()
	b.metaDirty = true
}

// Unlink removes one link. At zero the node is doomed: the file
// table moves it straight to the finalizer on last close, and the
// on-disk pair is deleted after the flush.
func (b *base) Unlink() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta.NLink > 0 {
		b.meta.NLink--
	}
	if b.meta.NLink == 0 {
		b.unlinked = true
	}
	b.touchCtimeLocked()
	b.metaDirty = true
}

func (b *base) IsUnlinked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unlinked
}

// Utimens sets access and modification times. Nil pointers leave the
// corresponding field untouched.
func (b *base) Utimens(atime, mtime *time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if atime != nil {
		b.meta.Atime = atime.UnixNano()
	}
	if mtime != nil {
		b.meta.Mtime = mtime.UnixNano()
	}
	b.meta.Ctime = b.store.clock.Now().UnixNano()
	b.metaDirty = true
}

func (b *base) GetXattr(name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.meta.Xattr[name]
	if !ok {
		return nil, fmt.Errorf("xattr %q: %w", name, ErrNoAttribute)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (b *base) SetXattr(name string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta.Xattr == nil {
		b.meta.Xattr = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.meta.Xattr[name] = stored
	b.touchCtimeLocked()
	b.metaDirty = true
	return nil
}

func (b *base) ListXattr() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.meta.Xattr))
	for name := range b.meta.Xattr {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *base) RemoveXattr(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.meta.Xattr[name]; !ok {
		return fmt.Errorf("xattr %q: %w", name, ErrNoAttribute)
	}
	delete(b.meta.Xattr, name)
	b.touchCtimeLocked()
	b.metaDirty = true
	return nil
}

// touchCtimeLocked stamps the change time. Caller holds b.mu.
func (b *base) touchCtimeLocked() {
	b.meta.Ctime = b.store.clock.Now().UnixNano()
}

// touchMtimeLocked stamps the modification time after a data write.
// When timestamps are not stored the record is not dirtied for time
// alone; the new values ride along with the next real change.
func (b *base) touchMtimeLocked() {
	now := b.store.clock.Now().UnixNano()
	b.meta.Mtime = now
	b.meta.Ctime = now
	if b.store.storeTime {
		b.metaDirty = true
	}
}

// touchAtimeLocked stamps the access time on reads.
func (b *base) touchAtimeLocked() {
	b.meta.Atime = b.store.clock.Now().UnixNano()
	if b.store.storeTime {
		b.metaDirty = true
	}
}

// flushMetaLocked writes the sealed metadata record if dirty. Caller
// holds b.mu. Unlinked nodes skip the write: their pair is about to
// be deleted.
func (b *base) flushMetaLocked() error {
	if !b.metaDirty || b.unlinked {
		return nil
	}
	encoded, err := codec.Marshal(&b.meta)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", inodeid.Format(b.id), err)
	}
	sealed, err := b.store.keyring.SealRecord(b.id, encoded)
	if err != nil {
		return fmt.Errorf("sealing metadata for %s: %w", inodeid.Format(b.id), err)
	}
	if err := os.WriteFile(b.store.metaPath(b.id), sealed, 0o600); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", inodeid.Format(b.id), err)
	}
	b.metaDirty = false
	return nil
}

// loadMeta reads and opens the sealed metadata record.
func (b *base) loadMeta() error {
	sealed, err := os.ReadFile(b.store.metaPath(b.id))
	if err != nil {
		return fmt.Errorf("reading metadata for %s: %w", inodeid.Format(b.id), err)
	}
	encoded, err := b.store.keyring.OpenRecord(b.id, sealed)
	if err != nil {
		return fmt.Errorf("opening metadata for %s: %w", inodeid.Format(b.id), err)
	}
	if err := codec.Unmarshal(encoded, &b.meta); err != nil {
		return fmt.Errorf("decoding metadata for %s: %w", inodeid.Format(b.id), err)
	}
	if Kind(b.meta.Kind) != b.kind {
		return fmt.Errorf("inode %s is a %s, opened as %s: %w",
			inodeid.Format(b.id), Kind(b.meta.Kind), b.kind, ErrWrongType)
	}
	return nil
}
