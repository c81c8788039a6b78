// auth.go - peer authentication for the admin/control surface.
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

package transport

import (
	"crypto/subtle"

	"github.com/katzenpost/core/log"
	"github.com/op/go-logging"

	"github.com/anonmix/mixnode/relaytable"
)

// PeerAuthenticator authenticates a claimed relay identity's public key
// against the current relay table snapshot, the way auth.
// ProviderAuthenticator checks a peer's link key against the PKI
// document's provider list, but against relaytable's atomic snapshot
// instead of a fetched PKI document.
type PeerAuthenticator struct {
	table *relaytable.Table
	log   *logging.Logger
}

// NewPeerAuthenticator returns a PeerAuthenticator backed by table.
func NewPeerAuthenticator(table *relaytable.Table, logBackend *log.Backend) *PeerAuthenticator {
	return &PeerAuthenticator{
		table: table,
		log:   logBackend.GetLogger("peer-authenticator"),
	}
}

// IsPeerValid reports whether id's claimed public key matches the
// currently known relay of that id.
func (a *PeerAuthenticator) IsPeerValid(id [16]byte, publicKey [32]byte) bool {
	snapshot := a.table.Current()
	if snapshot == nil {
		a.log.Debugf("IsPeerValid: no relay table snapshot loaded")
		return false
	}
	for _, entry := range snapshot.Entries {
		if entry.ID == id {
			return subtle.ConstantTimeCompare(entry.PublicKey[:], publicKey[:]) == 1
		}
	}
	a.log.Debugf("IsPeerValid: unknown relay id")
	return false
}
