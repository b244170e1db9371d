// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/vaultfs-foundation/vaultfs/lib/filetable"
)

// splitPath splits a slash-separated path into components, dropping
// empty ones ("//", leading and trailing slashes).
func splitPath(path string) []string {
	var components []string
	for _, component := range strings.Split(path, "/") {
		if component != "" {
			components = append(components, component)
		}
	}
	return components
}

// foldPath applies case folding to the whole path when the mount
// flag is set.
func (c *Context) foldPath(path string) string {
	if c.table.Flags()&filetable.FlagCaseFold != 0 {
		return strings.ToLower(path)
	}
	return path
}

// openBaseDir resolves path down to its parent directory and returns
// a handle on it plus the final component. An empty or "/" path
// returns the root handle and an empty component.
//
// Resolution fast-forwards through the memo while prefixes hit, then
// verifies every remaining hop with a real directory lookup. Each
// verified hop is memoized. The final component is never resolved
// here — that is the caller's (or openAll's) job.
func (c *Context) openBaseDir(path string) (*filetable.Handle, string, error) {
	components := splitPath(c.foldPath(path))
	if len(components) == 0 {
		handle, err := filetable.OpenHandle(c.table, c.rootID, kindDirectory)
		if err != nil {
			return nil, "", err
		}
		return handle, "", nil
	}

	prefixes := make([]string, len(components))
	{
		prefix := ""
		for i, component := range components {
			prefix += "/" + component
			prefixes[i] = prefix
		}
	}

	id := c.rootID
	first := 0
	for first+1 < len(components) {
		memoized, ok := c.memo.get(prefixes[first])
		if !ok {
			break
		}
		id = memoized
		first++
	}

	handle, err := filetable.OpenHandle(c.table, id, kindDirectory)
	if err != nil {
		return nil, "", err
	}

	for i := first; i+1 < len(components); i++ {
		directory, err := handle.AsDirectory()
		if err != nil {
			handle.Close()
			return nil, "", err
		}
		entry, ok := directory.GetEntry(components[i])
		if !ok {
			handle.Close()
			return nil, "", fmt.Errorf("component %q of %q: %w", components[i], path, syscall.ENOENT)
		}
		if entry.Kind != kindDirectory {
			handle.Close()
			return nil, "", fmt.Errorf("component %q of %q: %w", components[i], path, syscall.ENOTDIR)
		}

		next, err := c.table.OpenAs(entry.ID, entry.Kind)
		if err != nil {
			handle.Close()
			return nil, "", err
		}
		handle.Reset(next)
		c.memo.put(prefixes[i], entry.ID)
	}

	return handle, components[len(components)-1], nil
}

// openAll resolves the full path, final component included.
func (c *Context) openAll(path string) (*filetable.Handle, error) {
	handle, last, err := c.openBaseDir(path)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return handle, nil
	}

	directory, err := handle.AsDirectory()
	if err != nil {
		handle.Close()
		return nil, err
	}
	entry, ok := directory.GetEntry(last)
	if !ok {
		handle.Close()
		return nil, fmt.Errorf("%q: %w", path, syscall.ENOENT)
	}

	node, err := c.table.OpenAs(entry.ID, entry.Kind)
	if err != nil {
		handle.Close()
		return nil, err
	}
	handle.Reset(node)
	return handle, nil
}
