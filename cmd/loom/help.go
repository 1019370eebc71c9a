// ABOUTME: Help display for the loom CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for usage output and envStatus for API key detection.
package main

import (
	"fmt"
	"io"
	"os"
)

const loomASCII = `
   _
  | | ___   ___  _ __ ___
  | |/ _ \ / _ \| '_ ` + "`" + ` _ \
  | | (_) | (_) | | | | | |
  |_|\___/ \___/|_| |_| |_|
`

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, examples, environment status, and a docs link.
func printHelp(w io.Writer, ver string) {
	fmt.Fprint(w, loomASCII)
	fmt.Fprintf(w, "loom %s — node-based workflow runner\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  loom <workflow.json|yaml>           Run a workflow")
	fmt.Fprintln(w, "  loom -validate <workflow.json>      Validate without executing")
	fmt.Fprintln(w, "  loom -watch <workflow.json>         Run with interactive terminal monitor")
	fmt.Fprintln(w, "  loom -dot <workflow.json>           Print the workflow as Graphviz DOT")
	fmt.Fprintln(w, "  loom -serve [-port 2389]            Start HTTP API server")
	fmt.Fprintln(w, "  loom -mcp                           Serve workflow tools over MCP stdio")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Run Flags:")
	fmt.Fprintln(w, "  -retry <policy>       none, standard, aggressive (default: none)")
	fmt.Fprintln(w, "  -timeout <duration>   Default per-node execution timeout (0 = none)")
	fmt.Fprintln(w, "  -continue-on-skip     Run downstream nodes with partial inputs")
	fmt.Fprintln(w, "  -halt-on-failure      Stop the run at the first node failure")
	fmt.Fprintln(w, "  -archive <path>       SQLite database for finished run results")
	fmt.Fprintln(w, "  -base-url <url>       Custom API base URL for the LLM provider")
	fmt.Fprintln(w, "  -verbose              Print every status event to stderr")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server Flags:")
	fmt.Fprintln(w, "  -serve                Start HTTP server mode")
	fmt.Fprintln(w, "  -port <port>          Server port (default: 2389)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other:")
	fmt.Fprintln(w, "  -validate             Validate workflow without executing")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  loom examples/summarize.json")
	fmt.Fprintln(w, "  loom -validate my_workflow.yaml")
	fmt.Fprintln(w, "  loom -watch -retry standard examples/pipeline.json")
	fmt.Fprintln(w, "  loom -serve -port 8080 -archive runs.db")
	fmt.Fprintln(w, "  loom -dot examples/pipeline.json | dot -Tsvg -o pipeline.svg")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  OPENAI_API_KEY        %s\n", envStatus("OPENAI_API_KEY"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  An API key is only required for workflows with generate nodes.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Docs: https://github.com/2389-research/loom")
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}
