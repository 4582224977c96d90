// Package main is the entry point for taskctl, the command-line client for
// taskd. It talks to a daemon over WebSocket (--url) or NATS (--nats).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
