// version.go - wire protocol version negotiation.
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

// Package version implements the mixnode wire protocol's version byte:
// parsing, the compatibility rule that gates sphinx.Process, and the
// state machine a packet's version moves through before processing.
package version

import (
	"errors"
	"fmt"

	"github.com/anonmix/mixnode/constants"
)

// ErrUnsupportedVersion is returned by Negotiate when a parsed version is
// incompatible with the local node's supported range.
var ErrUnsupportedVersion = errors.New("version: unsupported protocol version")

// ProtocolVersion is a semantic major/minor/patch triple. Only major and
// minor travel on the wire; patch exists for the human-readable string
// form and out-of-band negotiation (handshakes, directory documents).
type ProtocolVersion struct {
	Major byte
	Minor byte
	Patch byte
}

// Local is the version this build of the mixnode speaks.
var Local = ProtocolVersion{Major: 1, Minor: 0, Patch: 0}

// String renders the /mix/<major>.<minor>.<patch> form used in directory
// documents and logs.
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%s%d.%d.%d", constants.ProtocolIDPrefix, v.Major, v.Minor, v.Patch)
}

// Byte packs Major into the high nibble and Minor into the low nibble of a
// single wire byte. Patch is not transmitted: the header has no room for
// it, and patch releases never change wire compatibility.
func (v ProtocolVersion) Byte() byte {
	return (v.Major&0x0f)<<4 | (v.Minor & 0x0f)
}

// FromByte unpacks a wire version byte into a ProtocolVersion with Patch
// left zero, since the wire format does not carry it.
func FromByte(b byte) ProtocolVersion {
	return ProtocolVersion{Major: (b >> 4) & 0x0f, Minor: b & 0x0f}
}

// State is a parsed packet's position in the version gating state machine:
// Unparsed -> Parsed -> {Accepted, Rejected}.
type State int

const (
	Unparsed State = iota
	Parsed
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Unparsed:
		return "unparsed"
	case Parsed:
		return "parsed"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Compatible reports whether peer is acceptable to a node running local:
// majors must match exactly, and the peer's minor must be at least
// minSupportedMinor for that major. Negotiation is asymmetric — the
// receiver never upgrades or rewrites the packet's version, it only
// decides whether its own parser still understands it.
func Compatible(local, peer ProtocolVersion, minSupportedMinor byte) bool {
	if local.Major != peer.Major {
		return false
	}
	return peer.Minor >= minSupportedMinor
}

// Negotiate parses wireByte and checks it against local using
// constants.MinSupportedMinor, returning the decoded version and the
// terminal state (Accepted or Rejected). A Rejected packet must be
// dropped with sphinx.DropMalformed / pipeline.UnsupportedVersion before
// any key derivation is attempted, per the header-parse-first rule.
func Negotiate(wireByte byte, local ProtocolVersion) (ProtocolVersion, State, error) {
	peer := FromByte(wireByte)
	if !Compatible(local, peer, constants.MinSupportedMinor) {
		return peer, Rejected, ErrUnsupportedVersion
	}
	return peer, Accepted, nil
}
