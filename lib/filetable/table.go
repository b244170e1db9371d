// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package filetable

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// Eviction constants. When the closed list reaches MaxNumClosed the
// table ejects the oldest NumEject ids to the finalizer.
const (
	MaxNumClosed = 201
	NumEject     = 150
)

// Flags is the per-mount flags word.
type Flags uint32

const (
	// FlagReadOnly makes every mutation fail with EROFS.
	FlagReadOnly Flags = 1 << iota
	// FlagNoAuthentication seals blocks without an integrity tag.
	FlagNoAuthentication
	// FlagStoreTime persists atime/mtime/ctime eagerly.
	FlagStoreTime
	// FlagCaseFold folds path components before lookup.
	FlagCaseFold
)

// entry is one live inode: the node and its reference count.
type entry struct {
	node     inode.Node
	refcount int
}

// TableOptions configures a Table.
type TableOptions struct {
	// Store is the inode factory.
	Store *inode.Store

	// Flags is the mount flags word.
	Flags Flags

	// Logger receives finalizer failures and shutdown diagnostics.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Table is the identity and lifetime cache over inode ids.
//
// Three collections, all keyed by id:
//
//   - live: nodes currently reachable. refcount > 0 means held by at
//     least one handle; refcount == 0 means cold but still warm in
//     the cache (its id is on closedIDs).
//   - closedIDs: insertion-ordered ids with refcount 0, bounded by
//     MaxNumClosed. A reopen before ejection gets the same node back,
//     preserving the per-inode locking and cache state inside it.
//   - closing: nodes handed to the finalizer and not yet done. Guarded
//     by its own mutex so OpenAs can wait for an id being finalized
//     without serializing every open behind finalizer progress.
//
// mu is held across factory calls: opening the on-disk pair inside
// the lock is what makes "at most one node per id" hold under
// concurrent opens of the same missing id.
type Table struct {
	store     *inode.Store
	flags     Flags
	logger    *slog.Logger
	finalizer *Finalizer

	mu        sync.Mutex
	live      map[inodeid.ID]*entry
	closedIDs []inodeid.ID

	closingMu   sync.Mutex
	closingCond *sync.Cond
	closing     map[inodeid.ID]inode.Node
}

// NewTable creates a table and starts its finalizer.
func NewTable(options TableOptions) (*Table, error) {
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	t := &Table{
		store:     options.Store,
		flags:     options.Flags,
		logger:    options.Logger,
		finalizer: NewFinalizer(options.Logger),
		live:      make(map[inodeid.ID]*entry),
		closing:   make(map[inodeid.ID]inode.Node),
	}
	t.closingCond = sync.NewCond(&t.closingMu)
	return t, nil
}

// IsReadOnly reports the read-only mount flag.
func (t *Table) IsReadOnly() bool { return t.flags&FlagReadOnly != 0 }

// IsAuthEnabled reports whether sealed blocks carry integrity tags.
func (t *Table) IsAuthEnabled() bool { return t.flags&FlagNoAuthentication == 0 }

// IsTimeStored reports whether timestamps are persisted eagerly.
func (t *Table) IsTimeStored() bool { return t.flags&FlagStoreTime != 0 }

// Flags returns the whole flags word.
func (t *Table) Flags() Flags { return t.flags }

// OpenAs returns the node for id, opening the on-disk pair on a cache
// miss. A hit increments the refcount and returns the identical node
// every other holder sees. An id mid-finalization is waited out, then
// reopened from disk.
func (t *Table) OpenAs(id inodeid.ID, kind inode.Kind) (inode.Node, error) {
	for {
		t.waitWhileClosing(id)

		t.mu.Lock()
		if e, ok := t.live[id]; ok {
			e.refcount++
			t.removeClosedLocked(id)
			t.mu.Unlock()
			return e.node, nil
		}
		// The id may have entered closing between the wait and
		// taking mu (eject runs under mu). Recheck before opening.
		if t.isClosing(id) {
			t.mu.Unlock()
			continue
		}

		node, err := t.store.Open(id, kind)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.live[id] = &entry{node: node, refcount: 1}
		t.mu.Unlock()
		return node, nil
	}
}

// CreateAs creates the on-disk pair for id and returns its node with
// refcount 1.
func (t *Table) CreateAs(id inodeid.ID, kind inode.Kind) (inode.Node, error) {
	for {
		t.waitWhileClosing(id)

		t.mu.Lock()
		if _, ok := t.live[id]; ok {
			t.mu.Unlock()
			return nil, fmt.Errorf("inode %s: %w", inodeid.Format(id), inode.ErrExists)
		}
		if t.isClosing(id) {
			t.mu.Unlock()
			continue
		}

		node, err := t.store.Create(id, kind)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.live[id] = &entry{node: node, refcount: 1}
		t.mu.Unlock()
		return node, nil
	}
}

// Close drops one reference. At zero the node either goes straight to
// the finalizer (unlinked: flush, close, delete the pair) or parks on
// the closed list for a possible reopen. Reaching the closed-list
// bound triggers ejection of the oldest NumEject ids.
func (t *Table) Close(node inode.Node) {
	id := node.ID()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.live[id]
	if !ok || e.node != node {
		t.logger.Error("close of a node the table does not own", "id", inodeid.Format(id))
		return
	}
	if e.refcount <= 0 {
		t.logger.Error("close without matching open", "id", inodeid.Format(id))
		return
	}

	e.refcount--
	if e.refcount > 0 {
		return
	}

	if node.IsUnlinked() {
		delete(t.live, id)
		t.removeClosedLocked(id)
		t.moveToClosingLocked(id, node)
		return
	}

	t.closedIDs = append(t.closedIDs, id)
	if len(t.closedIDs) >= MaxNumClosed {
		t.ejectLocked()
	}
}

// GC drains the closed list entirely into the finalizer and waits for
// it to quiesce. Called at unmount and on explicit request.
func (t *Table) GC() {
	t.mu.Lock()
	for _, id := range t.closedIDs {
		e, ok := t.live[id]
		if !ok || e.refcount > 0 {
			continue
		}
		delete(t.live, id)
		t.moveToClosingLocked(id, e.node)
	}
	t.closedIDs = nil
	t.mu.Unlock()

	t.finalizer.Quiesce()
}

// Shutdown tears the table down: GC, then any node still held (a
// leaked handle) is closed with a warning, then the finalizer drains
// and stops. No node outlives the table.
func (t *Table) Shutdown() {
	t.GC()

	t.mu.Lock()
	for id, e := range t.live {
		t.logger.Warn("node still referenced at shutdown",
			"id", inodeid.Format(id), "refcount", e.refcount)
		delete(t.live, id)
		t.moveToClosingLocked(id, e.node)
	}
	t.mu.Unlock()

	t.finalizer.Close()
}

// Statfs forwards to the underlying OS filesystem.
func (t *Table) Statfs() (unix.Statfs_t, error) {
	return t.store.Statfs()
}

// ejectLocked pops the oldest NumEject ids off the closed list and
// moves the ones still at refcount 0 to the finalizer. An id reopened
// since it was parked is skipped (its id was already removed by
// OpenAs, but the window between append and eject makes the recheck
// necessary). Caller holds t.mu.
func (t *Table) ejectLocked() {
	count := NumEject
	if count > len(t.closedIDs) {
		count = len(t.closedIDs)
	}
	victims := t.closedIDs[:count]
	t.closedIDs = append([]inodeid.ID(nil), t.closedIDs[count:]...)

	for _, id := range victims {
		e, ok := t.live[id]
		if !ok || e.refcount > 0 {
			continue
		}
		delete(t.live, id)
		t.moveToClosingLocked(id, e.node)
	}
}

// moveToClosingLocked registers id in the closing set and submits the
// finalize task. Caller holds t.mu (or is in shutdown with exclusive
// access).
func (t *Table) moveToClosingLocked(id inodeid.ID, node inode.Node) {
	t.closingMu.Lock()
	t.closing[id] = node
	t.closingMu.Unlock()

	t.finalizer.Submit(func() error {
		err := t.finalize(id, node)

		t.closingMu.Lock()
		delete(t.closing, id)
		t.closingCond.Broadcast()
		t.closingMu.Unlock()

		return err
	})
}

// finalize flushes and closes a node. For an unlinked node the
// on-disk pair is removed after the close, never before: the logical
// namespace removal already happened, and a crash in between leaves
// an orphaned pair rather than a dangling directory entry.
func (t *Table) finalize(id inodeid.ID, node inode.Node) error {
	closeErr := node.Close()
	if node.IsUnlinked() {
		if err := t.store.Remove(id); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	if closeErr != nil {
		return fmt.Errorf("finalizing %s: %w", inodeid.Format(id), closeErr)
	}
	return nil
}

// removeClosedLocked deletes id from the closed list if present, so
// the list never holds an id with a positive refcount and never holds
// the same id twice. Caller holds t.mu.
func (t *Table) removeClosedLocked(id inodeid.ID) {
	for i, closed := range t.closedIDs {
		if closed == id {
			t.closedIDs = append(t.closedIDs[:i], t.closedIDs[i+1:]...)
			return
		}
	}
}

// waitWhileClosing blocks while id is mid-finalization.
func (t *Table) waitWhileClosing(id inodeid.ID) {
	t.closingMu.Lock()
	for {
		if _, ok := t.closing[id]; !ok {
			t.closingMu.Unlock()
			return
		}
		t.closingCond.Wait()
	}
}

// isClosing reports whether id is mid-finalization.
func (t *Table) isClosing(id inodeid.ID) bool {
	t.closingMu.Lock()
	defer t.closingMu.Unlock()
	_, ok := t.closing[id]
	return ok
}
