// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package blockcrypt

import (
	"bytes"
	"testing"

	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
	"github.com/vaultfs-foundation/vaultfs/lib/secret"
)

// testKeyring creates a keyring with a deterministic master key so
// tests are reproducible.
func testKeyring(t *testing.T, authenticated bool) *Keyring {
	t.Helper()
	key := [KeySize]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}
	buffer, err := secret.NewFromBytes(key[:])
	if err != nil {
		t.Fatal(err)
	}
	keyring, err := NewKeyring(buffer, authenticated)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keyring.Close() })
	return keyring
}

func testID(fill byte) inodeid.ID {
	var id inodeid.ID
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestSealOpenBlockRoundTrip(t *testing.T) {
	keyring := testKeyring(t, true)
	id := testID(0x42)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	blob, err := keyring.SealBlock(id, 7, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != len(plaintext)+keyring.Overhead() {
		t.Errorf("sealed size %d, want %d", len(blob), len(plaintext)+keyring.Overhead())
	}

	opened, err := keyring.OpenBlock(id, 7, blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("round trip lost data")
	}
}

func TestOpenBlockRejectsWrongOrdinal(t *testing.T) {
	keyring := testKeyring(t, true)
	id := testID(0x42)

	blob, err := keyring.SealBlock(id, 3, []byte("block three"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keyring.OpenBlock(id, 4, blob); err == nil {
		t.Error("blob opened under the wrong ordinal")
	}
}

func TestOpenBlockRejectsWrongInode(t *testing.T) {
	keyring := testKeyring(t, true)

	blob, err := keyring.SealBlock(testID(0x42), 0, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keyring.OpenBlock(testID(0x43), 0, blob); err == nil {
		t.Error("blob opened under a different inode id")
	}
}

func TestOpenBlockRejectsTampering(t *testing.T) {
	keyring := testKeyring(t, true)
	id := testID(0x01)

	blob, err := keyring.SealBlock(id, 0, []byte("authentic"))
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := keyring.OpenBlock(id, 0, blob); err == nil {
		t.Error("tampered blob opened successfully")
	}
}

func TestRecordSealUsesSeparateKey(t *testing.T) {
	keyring := testKeyring(t, true)
	id := testID(0x42)

	blob, err := keyring.SealRecord(id, []byte("metadata"))
	if err != nil {
		t.Fatal(err)
	}
	// A record must not open as a data block, even at MetaOrdinal.
	if _, err := keyring.OpenBlock(id, MetaOrdinal, blob); err == nil {
		t.Error("metadata record opened with the data key")
	}
	if _, err := keyring.OpenRecord(id, blob); err != nil {
		t.Errorf("record failed to open with the metadata key: %v", err)
	}
}

func TestUnauthenticatedRoundTrip(t *testing.T) {
	keyring := testKeyring(t, false)
	id := testID(0x42)
	plaintext := []byte("stream mode payload")

	blob, err := keyring.SealBlock(id, 0, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != len(plaintext)+keyring.Overhead() {
		t.Errorf("sealed size %d, want %d (no tag)", len(blob), len(plaintext)+keyring.Overhead())
	}

	opened, err := keyring.OpenBlock(id, 0, blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("round trip lost data")
	}
}

func TestModeMismatchRejected(t *testing.T) {
	authed := testKeyring(t, true)
	id := testID(0x42)

	blob, err := authed.SealBlock(id, 0, []byte("authenticated"))
	if err != nil {
		t.Fatal(err)
	}

	// Same master key, authentication disabled: the version byte
	// disagrees and the blob must be rejected, not misdecrypted.
	plain := testKeyring(t, false)
	if _, err := plain.OpenBlock(id, 0, blob); err == nil {
		t.Error("authenticated blob opened in unauthenticated mode")
	}
}

func TestObscureNameDeterministicAndDistinct(t *testing.T) {
	keyring := testKeyring(t, true)

	nameA := keyring.ObscureName(testID(0x42))
	nameB := keyring.ObscureName(testID(0x42))
	if nameA != nameB {
		t.Error("obscured name is not deterministic")
	}

	other := keyring.ObscureName(testID(0x43))
	if nameA == other {
		t.Error("different ids produced the same obscured name")
	}

	var raw inodeid.ID = testID(0x42)
	if bytes.Equal(nameA[:], raw[:]) {
		t.Error("obscured name equals the raw id")
	}
}

func TestNewKeyringRejectsShortKey(t *testing.T) {
	buffer, err := secret.NewFromBytes([]byte("short"))
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()
	if _, err := NewKeyring(buffer, true); err == nil {
		t.Error("short master key accepted")
	}
}
