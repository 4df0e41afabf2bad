package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"decisiondesk-backend/report"
	"decisiondesk-backend/retrieval"
	"decisiondesk-backend/service"

	"github.com/spf13/cobra"
)

var (
	askInsight  string
	askPolicies []string
	askCaller   string
	askFormat   string
	askOutput   string
	askTopK     int
)

// askCmd answers one question
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Produce a decision report for a question",
	Long: `Reads computed insights (JSON or plain text) and optional policy files,
then prints the report. Policy files are used verbatim next to whatever the
policy index retrieves for the question.

Example:
  decide ask --insight insights.json --policy leave.txt "Which employees exceeded limits?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askInsight, "insight", "i", "", "insight file, or - for stdin")
	askCmd.Flags().StringArrayVarP(&askPolicies, "policy", "p", nil, "policy file used verbatim (repeatable)")
	askCmd.Flags().StringVar(&askCaller, "caller", "cli", "caller ID recorded in the audit ledger")
	askCmd.Flags().StringVarP(&askFormat, "format", "f", "text", "output format: json, text, markdown or pdf")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "output file (default stdout)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "policies to retrieve (default from config)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(askFormat)
	if err != nil {
		return err
	}
	if format == report.FormatPDF && askOutput == "" {
		return fmt.Errorf("pdf output needs --output")
	}

	insight, err := readInsight(askInsight)
	if err != nil {
		return err
	}
	var policies []string
	for _, path := range askPolicies {
		text, err := retrieval.ReadPolicyFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		policies = append(policies, text)
	}

	ctx, app, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	req := service.DecideRequest{
		CallerID: askCaller,
		Insight:  insight,
		Policies: policies,
		Question: strings.Join(args, " "),
		TopK:     askTopK,
	}
	res, err := app.Decisions.Decide(ctx, req)
	if err != nil {
		return err
	}
	for _, d := range res.Degradations {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", d.Kind, d.Message)
	}

	out, err := report.Render(res.Document(req), format)
	if err != nil {
		return err
	}
	return writeOutput(askOutput, out)
}

// readInsight returns the insight as JSON. Files that are not JSON are
// passed on as a JSON string so the normalizer treats them as raw text.
func readInsight(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read insight: %w", err)
	}
	if json.Valid(data) {
		return data, nil
	}
	return json.Marshal(string(data))
}
