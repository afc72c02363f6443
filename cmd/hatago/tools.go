package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	pkgstrings "github.com/hatago/hatago-hub/pkg/strings"
)

var toolsEndpoint string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List every tool currently exposed by a running hatago-hub",
	Long: `Connects to a running hatago-hub's /tools endpoint and lists every
currently-registered tool, sorted by name, with its owning upstream and a
truncated description.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringVar(&toolsEndpoint, "endpoint", "http://localhost:8090", "base URL of a running hatago-hub")
}

type toolListing struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Upstream    string `json:"upstream"`
}

type toolsResponse struct {
	Tools []toolListing `json:"tools"`
}

func runTools(cmd *cobra.Command, _ []string) error {
	resp, err := fetchTools(toolsEndpoint)
	if err != nil {
		return fmt.Errorf("fetching tools from %s: %w", toolsEndpoint, err)
	}

	if len(resp.Tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools available")
		return nil
	}

	sort.Slice(resp.Tools, func(i, j int) bool { return resp.Tools[i].Name < resp.Tools[j].Name })

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("TOOL"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("UPSTREAM"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("DESCRIPTION"),
	})
	for _, tool := range resp.Tools {
		desc := pkgstrings.OneLine(tool.Description, pkgstrings.TableCellWidth)
		t.AppendRow(table.Row{tool.Name, tool.Upstream, desc})
	}
	t.Render()
	return nil
}

func fetchTools(endpoint string) (toolsResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(endpoint + "/tools")
	if err != nil {
		return toolsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return toolsResponse{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out toolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return toolsResponse{}, err
	}
	return out, nil
}
