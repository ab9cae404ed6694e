package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/docket/internal/cli"
	"github.com/aretw0/docket/internal/logging"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the conversation as a Mermaid diagram",
	Long:  `Outputs a Mermaid flowchart (graph TD) of the question sequence. With --session, the session's progress is highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := cli.LoadCatalog(cfg.Server.CatalogPath)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")

		p, err := cli.OpenPersistence(cfg.Store, logging.NewNop())
		if err != nil {
			return err
		}
		defer p.Close()
		return cli.Graph(cmd.Context(), os.Stdout, cat, p.Store, sessionID)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the progress of this session")
}
