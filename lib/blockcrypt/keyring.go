// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package blockcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/vaultfs-foundation/vaultfs/lib/inodeid"
	"github.com/vaultfs-foundation/vaultfs/lib/secret"
)

// KeySize is the size in bytes of every symmetric key in the system:
// the vault master key and all HKDF-derived keys.
const KeySize = 32

// Blob version bytes. The version is the first byte of every sealed
// blob and part of the AAD in authenticated mode, so tampering with
// it causes an authentication failure rather than a misparse.
const (
	versionAuthenticated   byte = 0x01
	versionUnauthenticated byte = 0x02
)

// MetaOrdinal is the chunk ordinal used when sealing an inode's
// metadata record. Data blocks use their block index, which for an
// int64 file size never reaches this reserved value (2^64-1).
const MetaOrdinal = ^uint64(0)

// HKDF info strings, one per derivation path.
var (
	hkdfInfoData = []byte("vaultfs.inode.data.v1")
	hkdfInfoMeta = []byte("vaultfs.inode.meta.v1")
	hkdfInfoName = []byte("vaultfs.storage.name.v1")
)

// nameDomain is the data prefix for the keyed BLAKE3 name derivation.
var nameDomain = []byte("vaultfs.storage.obscure.v1")

// Keyring owns the vault master key and derives everything else from
// it. Derived keys are not cached; each seal/open performs a fresh
// HKDF derivation (about a microsecond, negligible next to the AEAD
// and the disk I/O that follow).
//
// Close zeroes and releases the master key. After Close every method
// that derives a key (the seal and open methods, ObscureName) panics
// via the secret.Buffer closed check.
type Keyring struct {
	master        *secret.Buffer
	authenticated bool
}

// NewKeyring creates a keyring from a master key. The buffer is owned
// by the keyring and closed with it. When authenticated is false the
// blob format drops the Poly1305 tag and seals with a plain XChaCha20
// stream.
func NewKeyring(master *secret.Buffer, authenticated bool) (*Keyring, error) {
	if master.Len() != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, master.Len())
	}
	return &Keyring{master: master, authenticated: authenticated}, nil
}

// Authenticated reports whether sealed blobs carry a Poly1305 tag.
func (k *Keyring) Authenticated() bool { return k.authenticated }

// Close zeroes and releases the master key. Idempotent.
func (k *Keyring) Close() error { return k.master.Close() }

// Overhead is the per-blob byte overhead of the current mode:
// version + nonce, plus the tag in authenticated mode.
func (k *Keyring) Overhead() int {
	if k.authenticated {
		return 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	}
	return 1 + chacha20poly1305.NonceSizeX
}

// SealBlock seals one data block of the given inode. The ordinal is
// the block index within the file.
func (k *Keyring) SealBlock(id inodeid.ID, ordinal uint64, plaintext []byte) ([]byte, error) {
	key, err := k.derive(hkdfInfoData, id)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return k.seal(key, plaintext, id, ordinal)
}

// OpenBlock opens a sealed data block.
func (k *Keyring) OpenBlock(id inodeid.ID, ordinal uint64, blob []byte) ([]byte, error) {
	key, err := k.derive(hkdfInfoData, id)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return k.open(key, blob, id, ordinal)
}

// SealRecord seals an inode's metadata record. Directory entry tables
// and symlink targets live in the data file and are sealed with
// SealBlock at ordinal 0.
func (k *Keyring) SealRecord(id inodeid.ID, plaintext []byte) ([]byte, error) {
	key, err := k.derive(hkdfInfoMeta, id)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return k.seal(key, plaintext, id, MetaOrdinal)
}

// OpenRecord opens a sealed metadata record.
func (k *Keyring) OpenRecord(id inodeid.ID, blob []byte) ([]byte, error) {
	key, err := k.derive(hkdfInfoMeta, id)
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return k.open(key, blob, id, MetaOrdinal)
}

// ObscureName computes the obscured storage name for an inode id: a
// keyed BLAKE3 hash under the name-obscuring key. Deterministic for a
// given vault, opaque without the master key.
func (k *Keyring) ObscureName(id inodeid.ID) [32]byte {
	key, err := k.derive(hkdfInfoName, inodeid.ID{})
	if err != nil {
		// HKDF-SHA256 only fails with a broken hash implementation.
		panic("blockcrypt: deriving name-obscuring key: " + err.Error())
	}
	defer key.Close()

	hasher, err := blake3.NewKeyed(key.Bytes())
	if err != nil {
		panic("blockcrypt: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(nameDomain)
	hasher.Write(id[:])
	var name [32]byte
	copy(name[:], hasher.Sum(nil))
	return name
}

// seal produces [version][nonce][ciphertext(+tag)].
func (k *Keyring) seal(key *secret.Buffer, plaintext []byte, id inodeid.ID, ordinal uint64) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	if !k.authenticated {
		cipher, err := chacha20.NewUnauthenticatedCipher(key.Bytes(), nonce[:])
		if err != nil {
			return nil, fmt.Errorf("creating XChaCha20 cipher: %w", err)
		}
		output := make([]byte, 1+len(nonce)+len(plaintext))
		output[0] = versionUnauthenticated
		copy(output[1:], nonce[:])
		cipher.XORKeyStream(output[1+len(nonce):], plaintext)
		return output, nil
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	output := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	output[0] = versionAuthenticated
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, buildAAD(versionAuthenticated, id, ordinal)), nil
}

// open reverses seal. It rejects blobs whose version byte disagrees
// with the keyring's mode: an authenticated vault never silently
// accepts an unauthenticated blob.
func (k *Keyring) open(key *secret.Buffer, blob []byte, id inodeid.ID, ordinal uint64) ([]byte, error) {
	if len(blob) < k.Overhead() {
		return nil, fmt.Errorf("sealed blob is %d bytes, minimum is %d", len(blob), k.Overhead())
	}

	version := blob[0]
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	if !k.authenticated {
		if version != versionUnauthenticated {
			return nil, fmt.Errorf("sealed blob version %#02x does not match unauthenticated mode", version)
		}
		cipher, err := chacha20.NewUnauthenticatedCipher(key.Bytes(), nonce)
		if err != nil {
			return nil, fmt.Errorf("creating XChaCha20 cipher: %w", err)
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.XORKeyStream(plaintext, ciphertext)
		return plaintext, nil
	}

	if version != versionAuthenticated {
		return nil, fmt.Errorf("sealed blob version %#02x does not match authenticated mode", version)
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, id, ordinal))
	if err != nil {
		return nil, fmt.Errorf("opening sealed blob (wrong key, tampered data, or misplaced blob): %w", err)
	}
	return plaintext, nil
}

// derive runs HKDF-SHA256 over the master key with info ‖ id. The id
// is all-zero for vault-wide keys (the name-obscuring key).
func (k *Keyring) derive(info []byte, id inodeid.ID) (*secret.Buffer, error) {
	material := make([]byte, len(info)+len(id))
	copy(material, info)
	copy(material[len(info):], id[:])

	reader := hkdf.New(sha256.New, k.master.Bytes(), nil, material)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// buildAAD binds a sealed blob to its inode and position:
// version ‖ id ‖ ordinal (little-endian).
func buildAAD(version byte, id inodeid.ID, ordinal uint64) []byte {
	aad := make([]byte, 1+len(id)+8)
	aad[0] = version
	copy(aad[1:], id[:])
	binary.LittleEndian.PutUint64(aad[1+len(id):], ordinal)
	return aad
}
