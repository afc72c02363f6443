// Command hatago runs the hatago-hub MCP aggregator: it loads a
// configuration document, connects the configured upstream MCP servers,
// and serves the aggregated surface over HTTP or stdio.
package main

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd.Version = version
	execute()
}
