package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/docket/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document service and the session API",
	Long: `Starts the reference document service, the session API (with SSE updates)
and the Prometheus /metrics endpoint. With --external only the session API and
metrics run, talking to the service at --backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Server.APIAddr, _ = flags.GetString("addr")
		}
		if flags.Changed("backend-addr") {
			cfg.Server.BackendAddr, _ = flags.GetString("backend-addr")
		}
		if flags.Changed("metrics-addr") {
			cfg.Server.MetricsAddr, _ = flags.GetString("metrics-addr")
		}
		if flags.Changed("analyzer") {
			cfg.Server.Analyzer, _ = flags.GetBool("analyzer")
		}
		if flags.Changed("extractors") {
			cfg.Server.Extractors, _ = flags.GetString("extractors")
		}
		external, _ := flags.GetBool("external")
		return cli.RunServe(cfg, cli.ServeOptions{Debug: debugFlag(cmd), External: external})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Session API listen address")
	serveCmd.Flags().String("backend-addr", ":8000", "Document service listen address")
	serveCmd.Flags().String("metrics-addr", ":2112", "Metrics listen address")
	serveCmd.Flags().Bool("analyzer", false, "Enable the keyword content analyzer")
	serveCmd.Flags().String("extractors", "", "YAML or JSON file of text extractors used by the analyzer")
	serveCmd.Flags().Bool("external", false, "Use the document service at --backend instead of starting one")
}
