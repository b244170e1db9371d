// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package vaultconfig

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/vaultfs-foundation/vaultfs/lib/blockcrypt"
	"github.com/vaultfs-foundation/vaultfs/lib/secret"
)

// FileName is the descriptor's name at the vault root.
const FileName = "vaultfs.yml"

// FormatVersion is the current vault format version.
const FormatVersion = 1

// Config holds the creation-time choices that shape the on-disk
// format. CaseFold changes which names collide, NoAuthentication
// changes the sealed blob format — neither can change after creation.
type Config struct {
	CaseFold         bool
	NoAuthentication bool
	StoreTime        bool
}

// descriptor is the YAML layout of the vault descriptor file.
type descriptor struct {
	Version          int    `yaml:"version"`
	KDF              string `yaml:"kdf"`
	SealedMasterKey  string `yaml:"sealed_master_key"`
	CaseFold         bool   `yaml:"case_fold"`
	NoAuthentication bool   `yaml:"no_authentication"`
	StoreTime        bool   `yaml:"store_time"`
}

const kdfAgeScrypt = "age-scrypt"

// Create initializes a vault: generates a random master key, seals
// it to the passphrase, and writes the descriptor. Fails if the
// vault already has a descriptor. The passphrase buffer is borrowed,
// not closed.
func Create(root string, passphrase *secret.Buffer, config Config) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("creating vault directory %s: %w", root, err)
	}
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("vault descriptor %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking for existing descriptor: %w", err)
	}

	masterKey := make([]byte, blockcrypt.KeySize)
	if _, err := io.ReadFull(rand.Reader, masterKey); err != nil {
		return fmt.Errorf("generating master key: %w", err)
	}
	defer secret.Zero(masterKey)

	recipient, err := age.NewScryptRecipient(string(passphrase.Bytes()))
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealedBuffer bytes.Buffer
	writer, err := age.Encrypt(&sealedBuffer, recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(masterKey); err != nil {
		return fmt.Errorf("sealing master key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing master key seal: %w", err)
	}

	encoded, err := yaml.Marshal(descriptor{
		Version:          FormatVersion,
		KDF:              kdfAgeScrypt,
		SealedMasterKey:  base64.StdEncoding.EncodeToString(sealedBuffer.Bytes()),
		CaseFold:         config.CaseFold,
		NoAuthentication: config.NoAuthentication,
		StoreTime:        config.StoreTime,
	})
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	return nil
}

// Unlock reads the descriptor and unseals the master key with the
// passphrase. The key is returned in guarded memory; the caller owns
// it (typically handing it straight to a keyring). The passphrase
// buffer is borrowed, not closed.
func Unlock(root string, passphrase *secret.Buffer) (*secret.Buffer, Config, error) {
	path := filepath.Join(root, FileName)
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, Config{}, fmt.Errorf("reading vault descriptor: %w", err)
	}

	var record descriptor
	if err := yaml.Unmarshal(encoded, &record); err != nil {
		return nil, Config{}, fmt.Errorf("decoding vault descriptor: %w", err)
	}
	if record.Version != FormatVersion {
		return nil, Config{}, fmt.Errorf("vault format version %d is not supported (expected %d)",
			record.Version, FormatVersion)
	}
	if record.KDF != kdfAgeScrypt {
		return nil, Config{}, fmt.Errorf("unknown KDF %q in vault descriptor", record.KDF)
	}

	sealed, err := base64.StdEncoding.DecodeString(record.SealedMasterKey)
	if err != nil {
		return nil, Config{}, fmt.Errorf("decoding sealed master key: %w", err)
	}

	identity, err := age.NewScryptIdentity(string(passphrase.Bytes()))
	if err != nil {
		return nil, Config{}, fmt.Errorf("creating scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, Config{}, fmt.Errorf("unsealing master key (wrong passphrase?): %w", err)
	}

	masterKey, err := secret.NewFromReader(reader, blockcrypt.KeySize)
	if err != nil {
		return nil, Config{}, fmt.Errorf("reading unsealed master key: %w", err)
	}

	config := Config{
		CaseFold:         record.CaseFold,
		NoAuthentication: record.NoAuthentication,
		StoreTime:        record.StoreTime,
	}
	return masterKey, config, nil
}
