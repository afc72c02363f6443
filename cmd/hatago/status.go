package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusEndpoint string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lifecycle state of every configured upstream",
	Long: `Connects to a running hatago-hub's /debug endpoint and renders each
upstream's current lifecycle state, connect-attempt count, and last error
in a table.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", "http://localhost:8090", "base URL of a running hatago-hub")
}

type debugUpstream struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Activation string `json:"activation"`
	Attempts   int    `json:"attempts"`
	RefCount   int    `json:"refCount"`
	LastError  string `json:"lastError"`
}

type debugResponse struct {
	Upstreams []debugUpstream `json:"upstreams"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	sp := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	sp.Suffix = " connecting to " + statusEndpoint
	sp.Start()

	resp, err := fetchDebug(statusEndpoint)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("fetching status from %s: %w", statusEndpoint, err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("UPSTREAM"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("ACTIVATION"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("ATTEMPTS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("REFS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("LAST ERROR"),
	})
	for _, u := range resp.Upstreams {
		t.AppendRow(table.Row{
			text.Colors{text.FgHiBlue, text.Bold}.Sprint(u.ID),
			stateColor(u.State).Sprint(u.State),
			u.Activation,
			u.Attempts,
			u.RefCount,
			u.LastError,
		})
	}
	t.Render()
	return nil
}

func stateColor(state string) text.Colors {
	switch state {
	case "running":
		return text.Colors{text.FgHiGreen}
	case "crashed":
		return text.Colors{text.FgHiRed}
	case "starting", "stopping":
		return text.Colors{text.FgHiYellow}
	default:
		return text.Colors{text.Faint}
	}
}

func fetchDebug(endpoint string) (debugResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(endpoint + "/debug")
	if err != nil {
		return debugResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return debugResponse{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out debugResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return debugResponse{}, err
	}
	return out, nil
}
