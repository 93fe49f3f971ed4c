//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"os"

	"golang.org/x/sys/unix"
)

// relaySignals are the signals forwarded to a consumer's signal handler.
var relaySignals = []os.Signal{unix.SIGHUP, unix.SIGCHLD}
