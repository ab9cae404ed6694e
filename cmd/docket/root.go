package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/docket/internal/config"
)

// cfg is loaded once before any command runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "docket",
	Short: "Docket files documents through a short conversation",
	Long: `Docket uploads a document, asks for its type, client and date, proposes a
name and folder, and files it once you confirm.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			if _, err := os.Stat("docket.yaml"); err == nil {
				path = "docket.yaml"
			}
		}
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
		return applyStoreFlags(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (default ./docket.yaml if present)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log debug output to Stderr")
	rootCmd.PersistentFlags().String("store", "", "Session store: memory, file, sqlite or redis")
	rootCmd.PersistentFlags().String("store-path", "", "Session directory (file) or database (sqlite)")
	rootCmd.PersistentFlags().String("backend", "", "Base URL of the document service")
}

// applyStoreFlags lets flags override the loaded configuration.
func applyStoreFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.Driver, _ = flags.GetString("store")
	}
	if flags.Changed("store-path") {
		cfg.Store.Path, _ = flags.GetString("store-path")
	}
	if flags.Changed("backend") {
		cfg.Backend.URL, _ = flags.GetString("backend")
	}
	return cfg.Validate()
}

func debugFlag(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}
