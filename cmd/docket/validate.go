package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/docket/internal/cli"
)

var errInvalidAnswer = errors.New("invalid answer")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an answer against a question's rules",
	Long:  `Runs the same checks a session applies before contacting the document service and prints a suggestion when one exists.`,
	Example: `  docket validate --question doc_type --answer Factura123
  docket validate --question date --answer 15/01/2025`,
	RunE: func(cmd *cobra.Command, args []string) error {
		questionID, _ := cmd.Flags().GetString("question")
		answer, _ := cmd.Flags().GetString("answer")

		cat, err := cli.LoadCatalog(cfg.Server.CatalogPath)
		if err != nil {
			return err
		}
		ok, err := cli.Validate(os.Stdout, cat, questionID, answer)
		if err != nil {
			return err
		}
		if !ok {
			return errInvalidAnswer
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("question", "q", "", "Question ID (doc_type, client, date)")
	validateCmd.Flags().StringP("answer", "a", "", "Answer to check")
	_ = validateCmd.MarkFlagRequired("question")
}
