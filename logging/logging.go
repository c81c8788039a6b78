// logging.go - leveled logging backend setup.
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

// Package logging sets up the node's single logging.Backend, shared by
// every subsystem's named sub-logger (pipeline-N, scheduler-N,
// dispatcher-N, relaytable, and so on).
package logging

import (
	"fmt"

	"github.com/katzenpost/core/log"
	"github.com/op/go-logging"
)

// validLevels are the level strings config's log_level option accepts.
var validLevels = map[string]bool{
	"DEBUG":    true,
	"INFO":     true,
	"NOTICE":   true,
	"WARNING":  true,
	"ERROR":    true,
	"CRITICAL": true,
}

// ErrInvalidLevel is returned by Setup for a level string outside
// validLevels.
type ErrInvalidLevel struct {
	Level string
}

func (e *ErrInvalidLevel) Error() string {
	return fmt.Sprintf("logging: invalid level %q (want one of DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL)", e.Level)
}

// Setup validates level and builds a log.Backend writing to logFile ("" ==
// stderr), matching main.go's original setupLoggerBackend/
// stringToLogLevel split but returning the reusable *log.Backend type
// every subsystem constructor in this node already takes, instead of a
// main-local logging.LeveledBackend.
func Setup(logFile, level string) (*log.Backend, error) {
	if !validLevels[level] {
		return nil, &ErrInvalidLevel{Level: level}
	}
	backend, err := log.New(logFile, level, false)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// GetLogger is a convenience wrapper over backend.GetLogger, kept so
// callers that only need a single named logger don't need to import
// op/go-logging directly.
func GetLogger(backend *log.Backend, name string) *logging.Logger {
	return backend.GetLogger(name)
}
