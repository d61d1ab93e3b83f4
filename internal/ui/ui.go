// Package ui is the minimal adapter between the gossip core and
// whatever front end renders it: a line-oriented sink for human-facing
// status and fatal conditions. A real terminal UI (chat view, contact
// list) sits in front of this adapter without the core knowing; this
// package is the stub that adapter attaches to.
package ui

import (
	"fmt"
	"io"
	"os"
)

// Out is the writer Log/Fatal render to. Tests may swap it for a buffer.
var Out io.Writer = os.Stdout

// Log writes one line to Out, prefixed with a bracketed level tag — e.g.
// "[info] peer connected".
func Log(level, msg string) {
	fmt.Fprintf(Out, "[%s] %s\n", level, msg)
}

// Fatal writes msg at the "fatal" level, then exits the process with
// status 1. Any buffered output must already be flushed by the time
// this is called.
func Fatal(msg string) {
	Log("fatal", msg)
	os.Exit(1)
}
