// Command spin-gpt serves a logged-in chat web page as a streaming HTTP
// completion endpoint.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return runCommand(runServeCommand, nil, stderr)
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion(stdout)
		return exitOK
	case "--help", "-h", "help":
		printHelp(stdout)
		return exitOK
	case "serve":
		return runCommand(runServeCommand, args[1:], stderr)
	}
	if strings.HasPrefix(args[0], "-") {
		return runCommand(runServeCommand, args, stderr)
	}
	fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
	printHelp(stderr)
	return exitConfig
}

func runCommand(fn func([]string) error, args []string, stderr io.Writer) int {
	err := fn(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCodeForError(err)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "spin-gpt %s (commit %s, built %s, %s/%s)\n", version, commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `spin-gpt - stream a browser chat session over HTTP

Usage:
  spin-gpt [serve] [flags]   start the relay (default)
  spin-gpt version           print version information
  spin-gpt serve -h          list serve flags

Configuration is read from ~/.spin-gpt/config.yaml, ./.spin-gpt/config.yaml
and SPIN_GPT_* environment variables; flags override all of them.
`)
}
