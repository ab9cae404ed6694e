package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/docket/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "File a document interactively",
	Long: `Uploads the file to the document service and starts the conversation.
With --session, a stored session is resumed where it was left.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Debug: debugFlag(cmd)}
		opts.FilePath, _ = cmd.Flags().GetString("file")
		if opts.FilePath == "" && len(args) > 0 {
			opts.FilePath = args[0]
		}
		opts.FileID, _ = cmd.Flags().GetString("file-id")
		opts.FileName, _ = cmd.Flags().GetString("file-name")
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.Headless, _ = cmd.Flags().GetBool("headless")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")

		if noAnalysis, _ := cmd.Flags().GetBool("no-analysis"); noAnalysis {
			cfg.Session.AnalysisEnabled = false
		}
		if fast, _ := cmd.Flags().GetBool("no-pacing"); fast || opts.JSON || opts.Headless {
			cfg.Session.Pacing.Think, cfg.Session.Pacing.Settle = 0, 0
		}
		return cli.RunSession(cfg, opts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("file", "f", "", "Local file to upload")
	runCmd.Flags().String("file-id", "", "ID of a file already staged on the document service")
	runCmd.Flags().String("file-name", "", "Original name of the staged file (with --file-id)")
	runCmd.Flags().StringP("session", "s", "", "Session ID to create or resume")
	runCmd.Flags().Bool("fresh", false, "Discard the stored session before starting")
	runCmd.Flags().Bool("headless", false, "Run in headless mode (no banner, no hints, no pacing)")
	runCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	runCmd.Flags().Bool("no-analysis", false, "Skip the content analysis offer")
	runCmd.Flags().Bool("no-pacing", false, "Show the next question without the thinking delay")
}
