// admin.go - local control socket request/response types.
// Copyright (C) 2017  David Stainton.
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

// Package admin implements the node's local control surface: a UNIX domain
// socket carrying CBOR request/response pairs, each base64-encoded on its
// own newline-terminated line, adapted
// from cborplugin.Command's CBOR Command/CommandFactory marshal idiom but
// generalized from message-send commands to node lifecycle and
// introspection commands.
package admin

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/anonmix/mixnode/metrics"
	"github.com/anonmix/mixnode/relaytable"
)

// errClosedBeforeResponse is returned by Client.Call when the server
// closes the connection without writing a response line.
var errClosedBeforeResponse = errors.New("admin: connection closed before a response was received")

// Op names the requested admin command.
type Op string

const (
	OpStart         Op = "start"
	OpStop          Op = "stop"
	OpReload        Op = "reload"
	OpRotateKeys    Op = "rotate_keys"
	OpGetMetrics    Op = "get_metrics"
	OpGetRelayTable Op = "get_relay_table"
)

// Request is one CBOR frame sent to the control socket, base64-encoded on
// its own line.
type Request struct {
	Op Op

	// ConfigPath is the path to reload from; only meaningful for
	// OpReload. An empty path reloads from the node's current config
	// file.
	ConfigPath string
}

// Marshal encodes r as CBOR.
func (r *Request) Marshal() ([]byte, error) {
	return cbor.Marshal(r)
}

// Unmarshal decodes b into r.
func (r *Request) Unmarshal(b []byte) error {
	return cbor.Unmarshal(b, r)
}

// Response is the CBOR frame returned for a Request.
type Response struct {
	OK    bool
	Error string

	Metrics    *metrics.Snapshot  `cbor:",omitempty"`
	RelayTable []relaytable.Entry `cbor:",omitempty"`
}

// Marshal encodes r as CBOR.
func (r *Response) Marshal() ([]byte, error) {
	return cbor.Marshal(r)
}

// Unmarshal decodes b into r.
func (r *Response) Unmarshal(b []byte) error {
	return cbor.Unmarshal(b, r)
}

func errorResponse(err error) *Response {
	return &Response{OK: false, Error: err.Error()}
}

func okResponse() *Response {
	return &Response{OK: true}
}

func errUnknownOp(op Op) error {
	return fmt.Errorf("admin: unknown op %q", op)
}
