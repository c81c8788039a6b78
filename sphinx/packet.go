// packet.go - Sphinx packet wire format.
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

// Package sphinx implements the fixed-size Sphinx-style onion packet format:
// header parsing, per-hop key derivation, MAC verification, routing-ring
// blinding, payload decryption, and replay-tag computation. A node never
// learns anything about a packet beyond the one routing command it was
// addressed with and the one payload layer it is entitled to peel.
package sphinx

import (
	"errors"

	"github.com/anonmix/mixnode/constants"
)

// ErrTruncatedPacket is returned when a buffer shorter than PacketLength is
// handed to ParsePacket.
var ErrTruncatedPacket = errors.New("sphinx: truncated packet")

const (
	versionOff     = 0
	ephemeralOff   = versionOff + constants.VersionLength
	routingInfoOff = ephemeralOff + constants.EphemeralKeyLength
	macOff         = routingInfoOff + constants.RoutingInfoLength
	payloadOff     = macOff + constants.MACLength
)

// Packet is a parsed, fixed-size Sphinx packet. Frame retains ownership of
// the backing array; the Version/Ephemeral/RoutingInfo/MAC/Payload fields
// are slices into it.
type Packet struct {
	Frame [constants.PacketLength]byte

	Version      byte
	Ephemeral    []byte // 32 bytes
	RoutingInfo  []byte // 127 bytes, opaque ciphertext ring
	MAC          []byte // 16 bytes
	Payload      []byte // 1024 bytes
}

// ParsePacket interprets buf as a Sphinx packet. buf must be exactly
// constants.PacketLength bytes; the returned Packet copies it into an
// internally owned frame so callers may reuse or release buf immediately.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) != constants.PacketLength {
		return nil, ErrTruncatedPacket
	}
	p := &Packet{}
	copy(p.Frame[:], buf)
	p.bindFields()
	return p, nil
}

// bindFields re-slices the field accessors over p.Frame. Called once after
// parsing and again any time the frame's contents are rewritten in place
// (e.g. after blinding) so the slices keep pointing at the live bytes.
func (p *Packet) bindFields() {
	p.Version = p.Frame[versionOff]
	p.Ephemeral = p.Frame[ephemeralOff:routingInfoOff]
	p.RoutingInfo = p.Frame[routingInfoOff:macOff]
	p.MAC = p.Frame[macOff:payloadOff]
	p.Payload = p.Frame[payloadOff:]
}

// Bytes returns the packet's wire encoding, a view over the internal frame.
func (p *Packet) Bytes() []byte {
	return p.Frame[:]
}

// SetHeaderMAC overwrites the MAC field and re-binds field slices.
func (p *Packet) SetHeaderMAC(mac []byte) {
	copy(p.Frame[macOff:payloadOff], mac)
	p.bindFields()
}
