// constants.go - mixnode constants.
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

// Package constants contains the fixed protocol and engineering constants
// for the mixnode core.
package constants

import (
	"time"
)

const (
	// HeaderLength is the fixed size, in bytes, of a Sphinx packet header:
	// 1 (version) + 32 (ephemeral pubkey) + 127 (routing info) + 16 (MAC).
	HeaderLength = 176

	// PayloadLength is the fixed size, in bytes, of a Sphinx packet payload.
	PayloadLength = 1024

	// PacketLength is the fixed total size, in bytes, of a Sphinx packet.
	PacketLength = HeaderLength + PayloadLength

	// VersionLength is the size, in bytes, of the packet's version prefix.
	VersionLength = 1

	// EphemeralKeyLength is the size, in bytes, of the per-packet X25519
	// ephemeral public key embedded in the header.
	EphemeralKeyLength = 32

	// RoutingInfoLength is the size, in bytes, of the routing info ring.
	RoutingInfoLength = HeaderLength - VersionLength - EphemeralKeyLength - MACLength

	// MACLength is the size, in bytes, of the header's Poly1305 MAC.
	MACLength = 16

	// ReplayTagLength is the size, in bytes, of a replay tag.
	ReplayTagLength = 16

	// LocalIDLength is the size, in bytes, of a Deliver command's local id.
	LocalIDLength = 16

	// HopsPerPath is the default number of mix hops per path through the
	// mix network.
	HopsPerPath = 3

	// DefaultPoolSize is the default number of frames in the buffer pool.
	DefaultPoolSize = 1024

	// DefaultWorkerThreads is the default pipeline worker count.
	DefaultWorkerThreads = 4

	// DefaultBatchSize is the default max packets pulled per worker dequeue.
	DefaultBatchSize = 256

	// DefaultMaxQueueDepth is the default ingress queue depth.
	DefaultMaxQueueDepth = 10000

	// DefaultTargetThroughputPPS is the default token-bucket refill rate.
	DefaultTargetThroughputPPS = 25000

	// DefaultMeanDelay is the default Poisson distribution mean.
	DefaultMeanDelay = 500 * time.Millisecond

	// DefaultMinDelay is the default clamp floor.
	DefaultMinDelay = 50 * time.Millisecond

	// DefaultMaxDelay is the default clamp ceiling.
	DefaultMaxDelay = 2000 * time.Millisecond

	// DefaultReplayWindow is the default key epoch length.
	DefaultReplayWindow = 3600 * time.Second

	// DefaultAcquireTimeout is the default backpressure wait on the pool.
	DefaultAcquireTimeout = 50 * time.Millisecond

	// DefaultEgressTimeout is the default rate-limiter wait before drop.
	DefaultEgressTimeout = 10 * time.Millisecond

	// DefaultRelayIdleTimeout is the default relay table eviction age.
	DefaultRelayIdleTimeout = 900 * time.Second

	// DefaultShutdownWindow bounds the cooperative drain on Stop().
	DefaultShutdownWindow = 5 * time.Second

	// ReplayBitmapBytes is the size, in bytes, of the per-epoch replay
	// bloom filter bit-vector (1 MiB).
	ReplayBitmapBytes = 1 << 20

	// ReplayHashCount is the number of independent hash functions (k) used
	// to index the replay bloom filter.
	ReplayHashCount = 4

	// MinSupportedMinor is the default minimum accepted minor version for
	// the local protocol major version.
	MinSupportedMinor = 0

	// ProtocolIDPrefix is the human-readable protocol id prefix, as in
	// "/mix/1.2.0".
	ProtocolIDPrefix = "/mix/"
)
