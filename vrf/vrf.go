// vrf.go - Verifiable Random Function over Ed25519.
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

// Package vrf implements a Verifiable Random Function keyed by an Ed25519
// identity: the proof is an Ed25519 signature over the domain-tagged input
// and the output is SHA-512 of that signature. vrf_eval(sk, input) is
// unpredictable to anyone who doesn't hold sk and publicly verifiable given
// pk. Eval is deterministic, since Ed25519 signing is, but outputs are not
// unique: Verify accepts any valid Ed25519 signature over the input, so a
// holder of sk who signs with a nonce of their own choosing obtains a
// different output that also verifies. It backs both the delay generator (§4.4)
// and the weighted relay lottery (§4.5), keyed with domain-separated inputs
// so the two draws cannot be correlated by an observer holding only one of
// them.
package vrf

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
)

const (
	// OutputSize is the size, in bytes, of a VRF output.
	OutputSize = sha512.Size

	// ProofSize is the size, in bytes, of a VRF proof (an Ed25519 signature).
	ProofSize = ed25519.SignatureSize
)

var (
	// ErrInvalidProofSize is returned when a proof is not ProofSize bytes.
	ErrInvalidProofSize = errors.New("vrf: invalid proof size")

	// ErrVerificationFailed is returned by Verify when the proof does not
	// validate against the given public key and input.
	ErrVerificationFailed = errors.New("vrf: verification failed")
)

// Domain separation tags for the two VRF call sites sharing a keypair.
const (
	DelayDomain   = "mixnode-vrf-delay-v1"
	LotteryDomain = "mixnode-vrf-lottery-v1"
)

// Output is the fixed-size VRF output.
type Output [OutputSize]byte

// Proof is the VRF proof: an Ed25519 signature over the domain-tagged input.
type Proof [ProofSize]byte

// Eval computes the VRF output and proof for input under sk. domain must be
// one of DelayDomain or LotteryDomain (or any other caller-chosen tag) and
// is prepended to input to keep call sites non-correlatable.
func Eval(sk ed25519.PrivateKey, domain string, input []byte) (Output, Proof) {
	msg := taggedMessage(domain, input)
	sig := ed25519.Sign(sk, msg)

	var proof Proof
	copy(proof[:], sig)

	digest := sha512.Sum512(sig)
	var out Output
	copy(out[:], digest[:])

	return out, proof
}

// Verify checks that output/proof is a valid VRF evaluation of input under
// domain for the holder of the private key matching pk.
func Verify(pk ed25519.PublicKey, domain string, input []byte, output Output, proof Proof) error {
	msg := taggedMessage(domain, input)
	if !ed25519.Verify(pk, msg, proof[:]) {
		return ErrVerificationFailed
	}
	expected := sha512.Sum512(proof[:])
	if Output(expected) != output {
		return ErrVerificationFailed
	}
	return nil
}

func taggedMessage(domain string, input []byte) []byte {
	msg := make([]byte, 0, len(domain)+1+len(input))
	msg = append(msg, []byte(domain)...)
	msg = append(msg, 0x00)
	msg = append(msg, input...)
	return msg
}
