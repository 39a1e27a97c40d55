package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tim-br/diakonos/internal/ipc"
)

// outputFormat resolves the requested rendering for status/list output:
// an explicit --json or --yaml flag wins, otherwise plain text when stdout
// is a terminal and JSON when it is piped, mirroring diakonosd's own
// TTY-aware handler choice for logs.
type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func resolveFormat(cmd *cobra.Command) outputFormat {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return formatJSON
	}
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		return formatYAML
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return formatText
	}
	return formatJSON
}

// statusView is the shape rendered for a single-service status query,
// independent of ipc.Response so the JSON/YAML field names stay stable
// even if the wire protocol's tagging changes.
type statusView struct {
	Service string `json:"service" yaml:"service"`
	State   string `json:"state" yaml:"state"`
}

func printStatus(cmd *cobra.Command, resp ipc.Response) error {
	view := statusView{Service: resp.Service, State: string(resp.State)}
	switch resolveFormat(cmd) {
	case formatJSON:
		return printJSON(view)
	case formatYAML:
		return printYAML(view)
	default:
		fmt.Printf("%s: %s\n", view.Service, view.State)
		return nil
	}
}

func printServiceList(cmd *cobra.Command, entries []ipc.ServiceEntry) error {
	switch resolveFormat(cmd) {
	case formatJSON:
		return printJSON(entries)
	case formatYAML:
		return printYAML(entries)
	default:
		return printServiceTable(entries)
	}
}

func printServiceTable(entries []ipc.ServiceEntry) error {
	if len(entries) == 0 {
		fmt.Println("No services loaded")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.State)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}
