// crypto.go - constant-time crypto primitives for the Sphinx packet format.
// Copyright (C) 2017  Yawning Angel.
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

// Package crypto provides the primitive operations the Sphinx packet
// processor is built from: X25519 key agreement, HKDF-SHA256 key
// derivation, a ChaCha20 stream cipher, Poly1305 MACs, Ed25519 signatures,
// and constant-time comparison. ChaCha20Apply and Zero write into the
// buffer the caller passes; every other operation leaves its inputs
// untouched. Callers own buffer lifetime and zeroing.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Error is the crypto primitive error taxonomy. Callers map these onto
// DropReasonCryptoFailure; none of them are retriable.
var (
	ErrInvalidLength = errors.New("crypto: invalid length")
	ErrBadPoint      = errors.New("crypto: invalid or identity curve point")
	ErrMacMismatch   = errors.New("crypto: mac verification failed")
)

const (
	// X25519KeySize is the size, in bytes, of an X25519 public or private key.
	X25519KeySize = 32

	// SharedSecretSize is the size, in bytes, of an X25519 shared secret.
	SharedSecretSize = 32

	// MACSize is the size, in bytes, of a Poly1305 authentication tag.
	MACSize = 16

	// NonceSize is the size, in bytes, of a ChaCha20 nonce.
	NonceSize = chacha20.NonceSize
)

// identityPoint is the all-zero X25519 basepoint-multiplication result that
// curve25519.X25519 returns for a low-order / identity input point.
var identityPoint [X25519KeySize]byte

// GenerateX25519Keypair produces a fresh X25519 key pair using rnd as the
// entropy source (typically crypto/rand.Reader).
func GenerateX25519Keypair(rnd io.Reader) (sk, pk [X25519KeySize]byte, err error) {
	if _, err = io.ReadFull(rnd, sk[:]); err != nil {
		return sk, pk, err
	}
	// Clamp per RFC 7748.
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return sk, pk, err
	}
	copy(pk[:], pub)
	return sk, pk, nil
}

// X25519 performs Diffie-Hellman key agreement, returning the shared
// secret. Identity / low-order points are rejected per RFC 7748 to avoid
// small-subgroup attacks — such a shared secret drops the packet with
// ErrBadPoint rather than silently proceeding.
func X25519(sk, pk []byte) ([]byte, error) {
	if len(sk) != X25519KeySize || len(pk) != X25519KeySize {
		return nil, ErrInvalidLength
	}
	shared, err := curve25519.X25519(sk, pk)
	if err != nil {
		return nil, ErrBadPoint
	}
	if subtle.ConstantTimeCompare(shared, identityPoint[:]) == 1 {
		return nil, ErrBadPoint
	}
	return shared, nil
}

// HKDF derives outLen bytes of key material from shared secret ikm, using
// info as the domain-separation context. Used to derive each of the
// blinding, header, payload, mac, and replay keys from a single X25519
// shared secret.
func HKDF(ikm, info []byte, outLen int) ([]byte, error) {
	out := make([]byte, outLen)
	r := hkdf.New(sha256.New, ikm, nil, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChaCha20Apply XORs the ChaCha20 keystream (keyed by key and nonce) into
// inout in place. Used both to decrypt/re-encrypt the Sphinx header ring
// and to peel one payload layer.
func ChaCha20Apply(key, nonce, inout []byte) error {
	if len(key) != chacha20.KeySize {
		return ErrInvalidLength
	}
	if len(nonce) != chacha20.NonceSize {
		return ErrInvalidLength
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return err
	}
	c.XORKeyStream(inout, inout)
	return nil
}

// Poly1305MAC computes a Poly1305 MAC over msg, keyed by key, by running
// ChaCha20-Poly1305 AEAD with an empty plaintext and taking the resulting
// tag — equivalent to a bare Poly1305 one-time MAC but built on the
// already-imported AEAD primitive rather than a second standalone package.
func Poly1305MAC(key, nonce, msg []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, nil, msg)
	return sealed[len(sealed)-MACSize:], nil
}

// VerifyMAC recomputes the MAC over msg and compares it to tag in constant
// time.
func VerifyMAC(key, nonce, msg, tag []byte) error {
	expected, err := Poly1305MAC(key, nonce, msg)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return ErrMacMismatch
	}
	return nil
}

// SHA256 returns the SHA-256 digest of msg.
func SHA256(msg []byte) []byte {
	sum := sha256.Sum256(msg)
	return sum[:]
}

// CTEqual reports whether a and b are equal, in constant time with respect
// to their contents (their lengths are not secret).
func CTEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Ed25519Sign signs msg with the Ed25519 private key sk.
func Ed25519Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Ed25519Verify verifies an Ed25519 signature.
func Ed25519Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pk, msg, sig)
}

// Zero overwrites b with zero bytes. Called on key-derivation scratch
// buffers once a packet has been fully processed, per §4.1's "buffers
// passed in are zeroed on release" contract.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
