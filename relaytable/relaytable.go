// relaytable.go - relay descriptor table with atomic snapshot swap.
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

// Package relaytable holds the node's view of the rest of the mix network:
// an immutable, atomically-swapped snapshot of relay descriptors plus the
// weighted lottery built from it, warm-started from and persisted to a
// boltdb file so a restart doesn't begin with an empty table.
package relaytable

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/coreos/bbolt"
	"github.com/ugorji/go/codec"

	"github.com/anonmix/mixnode/lottery"
)

const relayBucketName = "relays"

// decayFactor is applied to every relay's reputation once per decay tick
// (default once per epoch), so reputation earned long ago counts for less
// than reputation earned recently.
const decayFactor = 0.99

// reputationLearningRate (alpha) controls how fast a single success or
// failure moves a relay's reputation toward 1 or 0.
const reputationLearningRate = 0.1

// ErrUnknownRelay is returned by UpdateReputation for an id not present in
// the current snapshot.
var ErrUnknownRelay = errors.New("relaytable: unknown relay id")

// Entry is one relay's descriptor plus table-local bookkeeping not used by
// the lottery weighting itself.
type Entry struct {
	lottery.RelayDescriptor
	LastSeen time.Time
}

// Snapshot is an immutable view of the relay table at one point in time.
type Snapshot struct {
	Entries []Entry
	Lottery *lottery.Lottery
}

// Table is the node's relay directory. The zero value is not usable; use
// Open.
type Table struct {
	current atomic.Pointer[Snapshot]
	db      *bbolt.DB
}

type wireEntry struct {
	ID            [16]byte
	PublicKey     [32]byte
	Address       [18]byte
	Reputation    float64
	Performance   float64
	StakeFraction float64
	LastSeenUnix  int64
}

// Open opens (creating if necessary) the boltdb file at path and loads any
// persisted relay entries into the initial snapshot.
func Open(path string) (*Table, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	t := &Table{db: db}

	entries, err := t.loadPersisted()
	if err != nil {
		db.Close()
		return nil, err
	}
	snap, err := buildSnapshot(entries)
	if err != nil {
		// An empty or all-zero-weight table is valid at cold start; only
		// a real decode error should fail Open.
		snap = &Snapshot{Entries: entries}
	}
	t.current.Store(snap)
	return t, nil
}

// Close closes the backing database.
func (t *Table) Close() error {
	return t.db.Close()
}

// Current returns the active snapshot. Safe for concurrent use; callers
// never need to lock around reads.
func (t *Table) Current() *Snapshot {
	return t.current.Load()
}

// Replace installs a brand-new set of relay entries as the active
// snapshot and persists it, discarding whatever was there before. Used for
// a full refresh from an authoritative source.
func (t *Table) Replace(entries []Entry) error {
	snap, err := buildSnapshot(entries)
	if err != nil {
		return err
	}
	if err := t.persist(entries); err != nil {
		return err
	}
	t.current.Store(snap)
	return nil
}

// UpdateReputation nudges one relay's reputation toward 1 (success) or 0
// (failure) using an EWMA with rate reputationLearningRate, then installs
// the result as the new active snapshot.
func (t *Table) UpdateReputation(id [16]byte, success bool) error {
	snap := t.Current()
	entries := append([]Entry(nil), snap.Entries...)
	found := false
	for i := range entries {
		if entries[i].ID == id {
			if success {
				entries[i].Reputation += reputationLearningRate * (1 - entries[i].Reputation)
			} else {
				entries[i].Reputation *= 1 - reputationLearningRate
			}
			entries[i].LastSeen = time.Now()
			found = true
			break
		}
	}
	if !found {
		return ErrUnknownRelay
	}
	return t.Replace(entries)
}

// DecayAll multiplies every relay's reputation by decayFactor and evicts
// entries whose LastSeen is older than idleTimeout. Intended to be called
// once per key epoch by a periodic refresh worker.
func (t *Table) DecayAll(idleTimeout time.Duration) error {
	snap := t.Current()
	cutoff := time.Now().Add(-idleTimeout)
	entries := make([]Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.LastSeen.Before(cutoff) {
			continue
		}
		e.Reputation *= decayFactor
		entries = append(entries, e)
	}
	return t.Replace(entries)
}

func buildSnapshot(entries []Entry) (*Snapshot, error) {
	descs := make([]lottery.RelayDescriptor, len(entries))
	for i, e := range entries {
		descs[i] = e.RelayDescriptor
	}
	if len(descs) == 0 {
		return &Snapshot{Entries: entries}, nil
	}
	lot, err := lottery.New(descs)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Entries: entries, Lottery: lot}, nil
}

func (t *Table) persist(entries []Entry) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(relayBucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket([]byte(relayBucketName))
		if err != nil {
			return err
		}
		var h codec.CborHandle
		for _, e := range entries {
			w := wireEntry{
				ID:            e.ID,
				PublicKey:     e.PublicKey,
				Address:       e.Address,
				Reputation:    e.Reputation,
				Performance:   e.Performance,
				StakeFraction: e.StakeFraction,
				LastSeenUnix:  e.LastSeen.Unix(),
			}
			var buf []byte
			if err := codec.NewEncoderBytes(&buf, &h).Encode(&w); err != nil {
				return err
			}
			if err := bucket.Put(e.ID[:], buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Table) loadPersisted() ([]Entry, error) {
	var entries []Entry
	err := t.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(relayBucketName))
		if bucket == nil {
			return nil
		}
		var h codec.CborHandle
		return bucket.ForEach(func(k, v []byte) error {
			var w wireEntry
			if err := codec.NewDecoderBytes(v, &h).Decode(&w); err != nil {
				return err
			}
			entries = append(entries, Entry{
				RelayDescriptor: lottery.RelayDescriptor{
					ID:            w.ID,
					PublicKey:     w.PublicKey,
					Address:       w.Address,
					Reputation:    w.Reputation,
					Performance:   w.Performance,
					StakeFraction: w.StakeFraction,
				},
				LastSeen: time.Unix(w.LastSeenUnix, 0),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
