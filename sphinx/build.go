// build.go - sender-side Sphinx packet construction.
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
	"errors"
	"io"

	"github.com/anonmix/mixnode/constants"
	"github.com/anonmix/mixnode/crypto"
)

// ErrEmptyPath is returned by BuildPacket when hops is empty.
var ErrEmptyPath = errors.New("sphinx: empty path")

// ErrPathTooLong is returned when hops exceeds the number of routing
// records the fixed-size ring can carry.
var ErrPathTooLong = errors.New("sphinx: path exceeds routing_info capacity")

// recordsPerHeader is the number of RecordLen-sized slots the routing_info
// ring can address.
const recordsPerHeader = constants.RoutingInfoLength / RecordLen

// HopSpec describes one hop along a path at packet-construction time: its
// long-term X25519 public key plus the routing command the packet should
// carry for it.
type HopSpec struct {
	PublicKey   [32]byte
	NextHop     [addrFieldLen]byte // ignored for the final (Deliver) hop
	LocalID     [16]byte           // used only for the final hop
	DelayHintMs uint32
}

// BuildPacket constructs a wire-ready Sphinx packet addressed to the given
// ordered path, wrapping payload (which must be exactly
// constants.PayloadLength bytes) in one onion-encryption layer per hop. The
// last hop in path always receives a Deliver record; every other hop
// receives a Forward record carrying its own HopSpec's NextHop address and
// DelayHintMs.
func BuildPacket(version byte, path []HopSpec, payload []byte, rnd io.Reader) ([]byte, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	if len(path) > recordsPerHeader {
		return nil, ErrPathTooLong
	}
	if len(payload) != constants.PayloadLength {
		return nil, crypto.ErrInvalidLength
	}

	esk, epk, err := crypto.GenerateX25519Keypair(rnd)
	if err != nil {
		return nil, err
	}

	n := len(path)
	shared := make([][]byte, n)
	hopKeys := make([]HopKeys, n)
	for i, hop := range path {
		s, err := crypto.X25519(esk[:], hop.PublicKey[:])
		if err != nil {
			return nil, err
		}
		shared[i] = s
		hk, err := DeriveHopKeys(s, epk[:])
		if err != nil {
			return nil, err
		}
		hopKeys[i] = hk
	}

	// Build the routing_info ring backward, from the last hop to the
	// first, so each layer's filler/MAC binds to the already-constructed
	// layer ahead of it.
	rings := make([][]byte, n)
	macs := make([][]byte, n)
	for i := n - 1; i >= 0; i-- {
		var rec Record
		if i == n-1 {
			rec.Flag = FlagDeliver
			rec.SetLocalID(path[i].LocalID)
		} else {
			rec.Flag = FlagForward
			rec.Addr = path[i].NextHop
			rec.DelayHintMs = path[i].DelayHintMs
			copy(rec.NextMAC[:], macs[i+1])
		}

		plaintext := make([]byte, constants.RoutingInfoLength)
		copy(plaintext, rec.Encode())
		if i < n-1 {
			copy(plaintext[RecordLen:], rings[i+1][:constants.RoutingInfoLength-RecordLen])
		}

		ks, err := headerKeystream(hopKeys[i].HeaderKey[:], hopKeys[i].Nonce[:], constants.RoutingInfoLength)
		if err != nil {
			return nil, err
		}
		ring := make([]byte, constants.RoutingInfoLength)
		for j := range ring {
			ring[j] = plaintext[j] ^ ks[j]
		}
		rings[i] = ring

		mac, err := crypto.Poly1305MAC(hopKeys[i].MACKey[:], hopKeys[i].Nonce[:], ring[:RecordLen])
		if err != nil {
			return nil, err
		}
		macs[i] = mac
	}

	// Onion-encrypt the payload: apply each hop's payload key in reverse
	// order so hop 0's layer is outermost and is the first one peeled.
	ct := make([]byte, len(payload))
	copy(ct, payload)
	for i := n - 1; i >= 0; i-- {
		if err := crypto.ChaCha20Apply(hopKeys[i].PayloadKey[:], hopKeys[i].Nonce[:], ct); err != nil {
			return nil, err
		}
	}

	out := &Packet{}
	out.Frame[versionOff] = version
	copy(out.Frame[ephemeralOff:routingInfoOff], epk[:])
	copy(out.Frame[routingInfoOff:macOff], rings[0])
	copy(out.Frame[macOff:payloadOff], macs[0])
	copy(out.Frame[payloadOff:], ct)
	out.bindFields()

	return append([]byte(nil), out.Bytes()...), nil
}
