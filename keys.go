// keys.go - node secret key material: load, generate, and seal.
// Copyright (C) 2017  David Anthony Stainton.
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

package mixnode

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/anonmix/mixnode/crypto"
	"github.com/anonmix/mixnode/crypto/vault"
)

const keysFileName = "keys.bin"

// nodeKeys is the full set of secret key material a mixnode holds: an
// X25519 keypair for Sphinx layer peeling, and an Ed25519 keypair for VRF
// draws (packet delay and relay lottery).
type nodeKeys struct {
	x25519SK [32]byte
	x25519PK [32]byte

	vrfSK ed25519.PrivateKey
	vrfPK ed25519.PublicKey
}

// marshal lays out the sealed vault payload: x25519SK(32) || x25519PK(32)
// || vrfSK(64). vrfPK is recomputed from vrfSK on load rather than stored,
// since ed25519.PrivateKey already embeds it.
func (k *nodeKeys) marshal() []byte {
	buf := make([]byte, 32+32+ed25519.PrivateKeySize)
	copy(buf[0:32], k.x25519SK[:])
	copy(buf[32:64], k.x25519PK[:])
	copy(buf[64:], k.vrfSK)
	return buf
}

func unmarshalNodeKeys(buf []byte) (*nodeKeys, error) {
	if len(buf) != 32+32+ed25519.PrivateKeySize {
		return nil, errors.New("keys: truncated key material")
	}
	k := &nodeKeys{}
	copy(k.x25519SK[:], buf[0:32])
	copy(k.x25519PK[:], buf[32:64])
	k.vrfSK = append(ed25519.PrivateKey(nil), buf[64:]...)
	k.vrfPK = append(ed25519.PublicKey(nil), k.vrfSK.Public().(ed25519.PublicKey)...)
	return k, nil
}

func generateNodeKeys() (*nodeKeys, error) {
	sk, pk, err := crypto.GenerateX25519Keypair(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "keys: failed to generate x25519 keypair")
	}
	vrfPK, vrfSK, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "keys: failed to generate ed25519 keypair")
	}
	return &nodeKeys{x25519SK: sk, x25519PK: pk, vrfSK: vrfSK, vrfPK: vrfPK}, nil
}

// loadOrGenerateKeys opens keys.bin under dataDir, generating and sealing a
// fresh keypair set if the file does not yet exist. passphrase seals the
// vault the same way crypto/vault.Vault always has: argon2-stretched,
// NaCl-secretbox-sealed, file mode 0600.
func loadOrGenerateKeys(dataDir, passphrase string) (*nodeKeys, error) {
	path := filepath.Join(dataDir, keysFileName)
	v, err := vault.New(passphrase, path)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		plaintext, err := v.Open()
		if err != nil {
			return nil, errors.Wrap(err, "keys: failed to open vault")
		}
		return unmarshalNodeKeys(plaintext)
	} else if !os.IsNotExist(statErr) {
		return nil, statErr
	}

	keys, err := generateNodeKeys()
	if err != nil {
		return nil, err
	}
	if err := v.Seal(keys.marshal()); err != nil {
		return nil, errors.Wrap(err, "keys: failed to seal vault")
	}
	return keys, nil
}

// rotateKeys generates a fresh keypair set and reseals it over the
// existing vault file, for the admin surface's rotate_keys command.
func rotateKeys(dataDir, passphrase string) (*nodeKeys, error) {
	path := filepath.Join(dataDir, keysFileName)
	v, err := vault.New(passphrase, path)
	if err != nil {
		return nil, err
	}
	keys, err := generateNodeKeys()
	if err != nil {
		return nil, err
	}
	if err := v.Seal(keys.marshal()); err != nil {
		return nil, errors.Wrap(err, "keys: failed to reseal vault")
	}
	return keys, nil
}

// relayID derives this node's own 16-byte relay identity from its X25519
// public key, the same truncation applied to a directory descriptor's id
// when it is admitted into the relay table.
func relayID(pk [32]byte) [16]byte {
	var id [16]byte
	copy(id[:], crypto.SHA256(pk[:])[:16])
	return id
}
