// Command ollactl is a small operator client for the admin control plane:
// a live table of upstreams and a tail of recent requests when attached to
// a terminal, or a single JSON snapshot when piped, so it works equally in
// an interactive session and in a script.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/HsGalaxy/gptload-go/internal/env"
	"github.com/HsGalaxy/gptload-go/internal/util"
)

func main() {
	addr := flag.String("addr", env.GetEnvOrDefault("OLLACTL_ADDR", "http://localhost:8080"), "admin API base URL")
	token := flag.String("token", os.Getenv("OLLACTL_TOKEN"), "admin token (prompted if omitted and attached to a terminal)")
	oneShot := flag.Bool("json", false, "print one upstreams snapshot as JSON and exit, instead of the live table")
	flag.Parse()

	if *token == "" {
		resolved, err := resolveToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ollactl:", err)
			os.Exit(1)
		}
		*token = resolved
	}

	c := newClient(*addr, *token)

	if *oneShot || !util.IsTerminal() {
		if err := printSnapshot(c); err != nil {
			fmt.Fprintln(os.Stderr, "ollactl:", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(newModel(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "ollactl:", err)
		os.Exit(1)
	}
}

// resolveToken prompts for the admin token with echo disabled when stdin is
// a terminal, so it never lands in shell history the way -token or
// OLLACTL_TOKEN can. Piped/non-interactive runs must supply -token or
// OLLACTL_TOKEN instead, since there's nothing to prompt.
func resolveToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no admin token: set -token, OLLACTL_TOKEN, or run attached to a terminal")
	}
	fmt.Fprint(os.Stderr, "Admin token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading admin token: %w", err)
	}
	return string(raw), nil
}

// printSnapshot is the non-interactive fallback: one upstreams listing as
// JSON, for piping into jq or a cron job instead of the live table.
func printSnapshot(c *client) error {
	rows, err := c.listUpstreams()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"upstreams": rows})
}
