package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/report"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	listCaller string
	listFrom   string
	listTo     string
	listLimit  int

	showFormat   string
	showOutput   string
	exportFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the decision ledger",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded decisions, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runAuditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [decision-id]",
	Short: "Render a recorded decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

var auditExportCmd = &cobra.Command{
	Use:   "export [decision-id]",
	Short: "Write a recorded decision to report storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditExport,
}

func init() {
	auditListCmd.Flags().StringVar(&listCaller, "caller", "", "only this caller")
	auditListCmd.Flags().StringVar(&listFrom, "from", "", "earliest timestamp, RFC3339 (inclusive)")
	auditListCmd.Flags().StringVar(&listTo, "to", "", "latest timestamp, RFC3339 (exclusive)")
	auditListCmd.Flags().IntVarP(&listLimit, "limit", "n", audit.DefaultQueryLimit, "maximum records")

	auditShowCmd.Flags().StringVarP(&showFormat, "format", "f", "text", "json, text, markdown or pdf")
	auditShowCmd.Flags().StringVarP(&showOutput, "output", "o", "", "output file (default stdout)")

	auditExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "pdf", "json, text, markdown or pdf")
}

func runAuditList(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{CallerID: listCaller, Limit: listLimit}
	var err error
	if filter.From, err = parseTime(listFrom); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	if filter.To, err = parseTime(listTo); err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	ctx, app, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := app.Decisions.ListDecisions(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECORDED\tCALLER\tENGINE\tCACHED\tCONFIDENCE\tQUESTION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.ID, r.Timestamp.Format(time.RFC3339), r.CallerID, r.EngineMode,
			r.ServedFromCache, r.Confidence.Level, truncate(r.Question, 60))
	}
	return w.Flush()
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid decision ID: %w", err)
	}
	format, err := report.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	if format == report.FormatPDF && showOutput == "" {
		return fmt.Errorf("pdf output needs --output")
	}

	ctx, app, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := app.Decisions.Report(ctx, id, format)
	if err != nil {
		return err
	}
	return writeOutput(showOutput, out)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid decision ID: %w", err)
	}
	format, err := report.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	ctx, app, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	exp, err := app.Decisions.Export(ctx, id, format)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s (%d bytes, %s)\n", exp.Key, exp.Size, exp.ContentType)
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
