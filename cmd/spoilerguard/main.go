// Command spoilerguard masks spoiler sentences in HTML.
//
// Usage:
//
//	spoilerguard                       Show help
//	spoilerguard mask 'site/**/*.html' Mask files matching globs
//	spoilerguard serve                 Run the HTTP masking service
//	spoilerguard stats                 Masked sentences per day and title
//	spoilerguard events                JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

const usage = `spoilerguard - spoiler sentence masking

Usage:
  spoilerguard <command> [flags]

Commands:
  mask        Mask spoilers in HTML files matching glob patterns
  serve       Run the HTTP masking service
  stats       Masked sentence counts per day and title
  events      JSONL event log viewer

Environment:
  JINA_API_KEY                  Enables the Jina embedder for semantic mode
  SPOILERGUARD_TITLES           Titles file (YAML or JSON)
  SPOILERGUARD_MODE             basic or semantic
  SPOILERGUARD_EMBED_PROVIDER   ollama or jina
  SPOILERGUARD_ADDR             serve listen address (default :8087)
  SPOILERGUARD_LOG_LEVEL        debug, info, warn, error
  SPOILERGUARD_TRACE            1 to emit per-unit trace events

Configuration is read from ~/.spoilerguard/config.json; a .env file in the
working directory is loaded first.

Run 'spoilerguard <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "mask":
		runMask()
	case "serve":
		runServe()
	case "stats":
		runStats()
	case "events":
		runEvents()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "spoilerguard: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
