// record.go - fixed-size per-hop routing records.
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
	"encoding/binary"
	"errors"

	"github.com/anonmix/mixnode/constants"
)

// Routing command flags, the first byte after a Record's embedded NextMAC.
const (
	FlagDrop    byte = 0x00
	FlagForward byte = 0x01
	FlagDeliver byte = 0x02
)

const (
	// addrFieldLen holds either a 16-byte IP (v4-mapped or v6) plus a
	// 2-byte port, or a 16-byte local delivery id left-padded into the
	// same slot.
	addrFieldLen = 18

	// RecordLen is the fixed size, in bytes, of one routing record within
	// the routing_info ring: a 16-byte MAC for the packet this hop will
	// forward, plus the hop's own routing command.
	RecordLen = constants.MACLength + 1 + addrFieldLen + 4
)

// ErrTruncatedRecord is returned when a buffer shorter than RecordLen is
// handed to DecodeRecord.
var ErrTruncatedRecord = errors.New("sphinx: truncated routing record")

// Record is one hop's routing command, as carried (encrypted) inside the
// routing_info ring. NextMAC is the header MAC this hop should stamp onto
// the packet it forwards — precomputed by the sender at construction time,
// since only the sender knows every hop's mac key in advance.
type Record struct {
	NextMAC     [constants.MACLength]byte
	Flag        byte
	Addr        [addrFieldLen]byte
	DelayHintMs uint32
}

// Encode serializes r into a RecordLen-byte buffer.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordLen)
	off := 0
	copy(buf[off:off+constants.MACLength], r.NextMAC[:])
	off += constants.MACLength
	buf[off] = r.Flag
	off++
	copy(buf[off:off+addrFieldLen], r.Addr[:])
	off += addrFieldLen
	binary.BigEndian.PutUint32(buf[off:off+4], r.DelayHintMs)
	return buf
}

// DecodeRecord parses a RecordLen-byte buffer into a Record.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) < RecordLen {
		return Record{}, ErrTruncatedRecord
	}
	var r Record
	off := 0
	copy(r.NextMAC[:], buf[off:off+constants.MACLength])
	off += constants.MACLength
	r.Flag = buf[off]
	off++
	copy(r.Addr[:], buf[off:off+addrFieldLen])
	off += addrFieldLen
	r.DelayHintMs = binary.BigEndian.Uint32(buf[off : off+4])
	return r, nil
}

// LocalID extracts the 16-byte local delivery id from a Deliver record's
// address field.
func (r Record) LocalID() [16]byte {
	var id [16]byte
	copy(id[:], r.Addr[:16])
	return id
}

// SetLocalID packs id into the address field for a Deliver record.
func (r *Record) SetLocalID(id [16]byte) {
	copy(r.Addr[:16], id[:])
	for i := 16; i < addrFieldLen; i++ {
		r.Addr[i] = 0
	}
}
