// vault.go - cryptographic vault for mixnode key material
// Copyright (C) 2017  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package vault seals the mixnode's secret key material ("keys.bin") to disk.
package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"os"

	"github.com/magical/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// argon2SaltSize is the salt size in bytes for use with argon2.
	argon2SaltSize = 8

	// passphraseMinSize is the minimum allowed passphrase size in bytes.
	passphraseMinSize = 12

	// secretboxNonceSize is the nonce size in bytes for NaCl SecretBox.
	secretboxNonceSize = 24

	// BlockType is the PEM block type written by Seal.
	BlockType = "MIXNODE KEYS"
)

// Vault encrypts node secret keys to disk. Uses argon2 for keystretching
// and NaCl SecretBox for authenticated encryption.
type Vault struct {
	Passphrase string
	Path       string
}

// New creates a new Vault rooted at path, sealed/opened with passphrase.
func New(passphrase, path string) (*Vault, error) {
	if len(passphrase) < passphraseMinSize {
		return nil, errors.New("vault: passphrase too short")
	}
	return &Vault{Passphrase: passphrase, Path: path}, nil
}

// stretch performs argon2 key stretching on the given passphrase. The first
// argon2SaltSize bytes of the passphrase are used as salt.
func (v *Vault) stretch(passphrase string) ([]byte, error) {
	if len(passphrase) <= argon2SaltSize {
		return nil, errors.New("vault: passphrase too short to carry a salt")
	}
	salt := passphrase[0:argon2SaltSize]
	pass := passphrase[argon2SaltSize:]

	// length in bytes of output key
	keyLen := 32

	// argon2 cost parameters

	// parallelism
	par := 2

	// mem is the amount of memory to use in kibibytes.
	// (mem must be at least 8*p, and will be rounded to a multiple of 4*p)
	mem := int64(1 << 16)

	// number of iterations
	n := 32

	return argon2.Key([]byte(pass), []byte(salt), n, par, mem, keyLen)
}

// Open returns the decrypted key material from the vault file.
func (v *Vault) Open() ([]byte, error) {
	pemPayload, err := ioutil.ReadFile(v.Path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemPayload)
	if block == nil {
		return nil, errors.New("vault: failed to decode pem file")
	}
	if len(block.Bytes) < secretboxNonceSize {
		return nil, errors.New("vault: truncated vault payload")
	}

	var nonce [secretboxNonceSize]byte
	copy(nonce[:], block.Bytes[0:secretboxNonceSize])

	var key [32]byte
	stretchedKey, err := v.stretch(v.Passphrase)
	if err != nil {
		return nil, err
	}
	copy(key[:], stretchedKey)

	ciphertext := block.Bytes[secretboxNonceSize:]

	plaintext, isAuthed := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !isAuthed {
		return nil, errors.New("vault: NaCl secretBox MAC failed")
	}

	return plaintext, nil
}

// Seal encrypts plaintext and writes it to the vault file on disk with mode
// 0600, using a fresh random nonce each call.
func (v *Vault) Seal(plaintext []byte) error {
	key, err := v.stretch(v.Passphrase)
	if err != nil {
		return err
	}
	sealKey := [32]byte{}
	copy(sealKey[:], key)

	nonce := [secretboxNonceSize]byte{}
	if _, err = rand.Read(nonce[:]); err != nil {
		return err
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &sealKey)

	fileMode := os.FileMode(0600)
	payload := make([]byte, len(ciphertext)+secretboxNonceSize)
	copy(payload, nonce[:])
	copy(payload[secretboxNonceSize:], ciphertext)

	block := pem.Block{
		Type:  BlockType,
		Bytes: payload,
	}
	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &block); err != nil {
		return err
	}

	return ioutil.WriteFile(v.Path, buf.Bytes(), fileMode)
}
