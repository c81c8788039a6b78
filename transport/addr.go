// addr.go - 18-byte wire address encoding.
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

// Package transport is the mixnode's network edge: a packet-oriented
// ingress acceptor, an egress sender with an address-resolution cache, and
// peer authentication for the admin/control surface.
package transport

import (
	"encoding/binary"
	"errors"
	"net"
)

// ErrUnsupportedAddress is returned by EncodeAddr for anything that isn't
// an IPv4 or IPv6 address.
var ErrUnsupportedAddress = errors.New("transport: address is not IPv4 or IPv6")

// EncodeAddr packs addr into the wire's 18-byte next-hop field: a 16-byte
// IPv6 address (IPv4 addresses are mapped per net.IP.To16) followed by a
// big-endian u16 port, matching the routing record's Addr field and §6's
// relay descriptor address field.
func EncodeAddr(addr *net.UDPAddr) ([18]byte, error) {
	var out [18]byte
	ip := addr.IP.To16()
	if ip == nil {
		return out, ErrUnsupportedAddress
	}
	copy(out[:16], ip)
	binary.BigEndian.PutUint16(out[16:], uint16(addr.Port))
	return out, nil
}

// DecodeAddr unpacks the wire's 18-byte next-hop field back into a
// *net.UDPAddr.
func DecodeAddr(b [18]byte) *net.UDPAddr {
	ip := make(net.IP, 16)
	copy(ip, b[:16])
	port := binary.BigEndian.Uint16(b[16:])
	return &net.UDPAddr{IP: ip, Port: int(port)}
}
