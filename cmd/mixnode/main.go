// main.go - mixnode daemon entry point.
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

// Package main provides the mixnode daemon's command line entry point,
// kept close to main.go's flag-parse-then-signal-loop shape: parse flags,
// build the node, wait for a termination or reload signal.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mixnode "github.com/anonmix/mixnode"
)

// Exit codes, per the admin surface's documented contract.
const (
	exitOK            = 0
	exitConfigError   = 64
	exitRuntimeFault  = 70
	exitShutdownSig   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFilePath string
	var passphrase string

	flag.StringVar(&configFilePath, "config", "", "mixnode TOML configuration file")
	flag.StringVar(&passphrase, "passphrase", "", "passphrase sealing keys.bin (falls back to $MIXNODE_PASSPHRASE)")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "mixnode: you must specify -config")
		flag.Usage()
		return exitConfigError
	}
	if passphrase == "" {
		passphrase = os.Getenv("MIXNODE_PASSPHRASE")
	}
	if passphrase == "" {
		fmt.Fprintln(os.Stderr, "mixnode: you must specify -passphrase or set MIXNODE_PASSPHRASE")
		return exitConfigError
	}

	node, err := mixnode.New(configFilePath, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mixnode: failed to initialize: %v\n", err)
		return exitConfigError
	}

	if err := node.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "mixnode: failed to start: %v\n", err)
		return exitRuntimeFault
	}
	defer node.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if err := node.Reload(configFilePath); err != nil {
				fmt.Fprintf(os.Stderr, "mixnode: reload failed: %v\n", err)
			}
		default:
			return exitShutdownSig
		}
	}
	return exitOK
}
