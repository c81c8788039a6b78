// keys.go - per-hop key derivation from an X25519 shared secret.
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

package sphinx

import (
	"github.com/anonmix/mixnode/constants"
	"github.com/anonmix/mixnode/crypto"
)

// Domain-separation tags for the five keys HKDF-derived from a single
// per-hop X25519 shared secret. Each hop only ever learns the shared secret
// for its own position in the path, so these keys never leak across hops.
const (
	infoHeader  = "mixnode-header-key"
	infoPayload = "mixnode-payload-key"
	infoMAC     = "mixnode-mac-key"
	infoReplay  = "mixnode-replay-key"
)

// HopKeys holds the key material one hop derives from its per-packet
// shared secret. ReplayKey doubles as the replay tag, since it is already a
// per-ephemeral-key, per-node value with no further structure a dedicated
// tag would add.
type HopKeys struct {
	HeaderKey  [32]byte
	PayloadKey [32]byte
	MACKey     [32]byte
	ReplayTag  [constants.ReplayTagLength]byte
	Nonce      [crypto.NonceSize]byte
}

// DeriveHopKeys expands shared (an X25519 shared secret) into the key
// material a single hop needs to process one packet. ephemeral is the
// packet's ephemeral public key, used to derive a packet-unique nonce so
// the same node key never reuses a stream-cipher nonce across packets.
func DeriveHopKeys(shared, ephemeral []byte) (HopKeys, error) {
	var hk HopKeys

	headerKey, err := crypto.HKDF(shared, []byte(infoHeader), 32)
	if err != nil {
		return hk, err
	}
	payloadKey, err := crypto.HKDF(shared, []byte(infoPayload), 32)
	if err != nil {
		return hk, err
	}
	macKey, err := crypto.HKDF(shared, []byte(infoMAC), 32)
	if err != nil {
		return hk, err
	}
	replayKey, err := crypto.HKDF(shared, []byte(infoReplay), constants.ReplayTagLength)
	if err != nil {
		return hk, err
	}

	copy(hk.HeaderKey[:], headerKey)
	copy(hk.PayloadKey[:], payloadKey)
	copy(hk.MACKey[:], macKey)
	copy(hk.ReplayTag[:], replayKey)

	// The nonce must be a deterministic function of the ephemeral key, not
	// random: every node that receives this packet needs to rederive the
	// identical nonce from the identical (shared, ephemeral) pair.
	nonceSeed, err := crypto.HKDF(shared, append([]byte("mixnode-nonce"), ephemeral...), crypto.NonceSize)
	if err != nil {
		return hk, err
	}
	copy(hk.Nonce[:], nonceSeed)

	return hk, nil
}

// headerKeystream returns n bytes of ChaCha20 keystream under key/nonce,
// starting at the stream's beginning. Used both to (de)blind the
// routing_info ring and to generate the filler bytes appended past its end
// — the filler is simply the same keystream's continuation, which is what
// lets a hop compute its own filler without coordinating with the sender.
func headerKeystream(key, nonce []byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := crypto.ChaCha20Apply(key, nonce, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
