// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
)

// pathMemo caches prefix → id resolutions from successful walks, plus
// the reverse mapping used to invalidate by id. Keys are kept sorted
// so invalidating a prefix visits exactly the contiguous run of its
// descendants.
//
// The memo has its own lock. The original design left it unguarded
// and relied on the kernel bridge serializing metadata calls per
// mount; go-fuse dispatches concurrently, so that assumption does not
// hold here (see DESIGN.md). The advisory contract is unchanged.
type pathMemo struct {
	mu      sync.Mutex
	keys    []string
	ids     map[string]inodeid.ID
	reverse map[inodeid.ID]string
}

func newPathMemo() *pathMemo {
	return &pathMemo{
		ids:     make(map[string]inodeid.ID),
		reverse: make(map[inodeid.ID]string),
	}
}

// get returns the memoized id for a path prefix.
func (m *pathMemo) get(path string) (inodeid.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[path]
	return id, ok
}

// put records a resolution observed during a walk.
func (m *pathMemo) put(path string, id inodeid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[path]; !exists {
		index := sort.SearchStrings(m.keys, path)
		m.keys = append(m.keys, "")
		copy(m.keys[index+1:], m.keys[index:])
		m.keys[index] = path
	}
	m.ids[path] = id
	m.reverse[id] = path
}

// clearPath removes every entry whose key has path as a prefix, and
// each corresponding reverse entry. The sorted key slice makes the
// affected entries one contiguous run.
func (m *pathMemo) clearPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := sort.SearchStrings(m.keys, path)
	end := start
	for end < len(m.keys) && strings.HasPrefix(m.keys[end], path) {
		key := m.keys[end]
		delete(m.reverse, m.ids[key])
		delete(m.ids, key)
		end++
	}
	m.keys = append(m.keys[:start], m.keys[end:]...)
}

// clearID invalidates through the reverse mapping: the prefix that
// most recently resolved to id, and everything beneath it.
func (m *pathMemo) clearID(id inodeid.ID) {
	m.mu.Lock()
	path, ok := m.reverse[id]
	m.mu.Unlock()
	if ok {
		m.clearPath(path)
	}
}

// len reports the number of memoized prefixes.
func (m *pathMemo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}
