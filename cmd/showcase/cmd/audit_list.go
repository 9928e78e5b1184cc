package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/showcase/audit"
)

// auditExport is the file written by `audit export` and read by
// `audit verify`. Entries are oldest first.
type auditExport struct {
	ExportedAt time.Time     `json:"exportedAt"`
	Entries    []audit.Entry `json:"entries"`
}

var (
	listEventType string
	listSubjectID string
	listLimit     int
	listJSON      bool
	exportOutput  string
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List security log entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSecurityLog(cmd, func(ctx context.Context, store *audit.Store) error {
			entries, err := store.List(ctx, audit.Filter{
				EventType: audit.EventType(listEventType),
				SubjectID: listSubjectID,
				Limit:     listLimit,
			})
			if err != nil {
				return err
			}
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printEntries(cmd.OutOrStdout(), entries)
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the whole security log for offline verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSecurityLog(cmd, func(ctx context.Context, store *audit.Store) error {
			export, err := exportSecurityLog(ctx, store, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if exportOutput != "" && exportOutput != "-" {
				f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(export)
		})
	},
}

func init() {
	auditCmd.AddCommand(auditListCmd, auditExportCmd)
	auditListCmd.Flags().StringVar(&listEventType, "event-type", "", "Only entries of this event type")
	auditListCmd.Flags().StringVar(&listSubjectID, "subject", "", "Only entries for this subject id")
	auditListCmd.Flags().IntVarP(&listLimit, "limit", "n", audit.DefaultListLimit, "Maximum number of entries")
	auditListCmd.Flags().BoolVar(&listJSON, "json", false, "Output entries as JSON")
	auditExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
}

// exportSecurityLog returns the log in chain order. When the stored chain
// is broken it falls back to id order so `audit verify` can pinpoint the
// damage.
func exportSecurityLog(ctx context.Context, store *audit.Store, now time.Time) (auditExport, error) {
	export := auditExport{ExportedAt: now.UTC()}
	entries, err := store.Export(ctx)
	if err == nil {
		export.Entries = entries
		return export, nil
	}
	if !errors.Is(err, audit.ErrChainBroken) {
		return auditExport{}, err
	}
	fmt.Fprintf(os.Stderr, "Warning: %v; exporting in id order\n", err)

	n, err := store.Count(ctx)
	if err != nil {
		return auditExport{}, err
	}
	entries, err = store.List(ctx, audit.Filter{Limit: n})
	if err != nil {
		return auditExport{}, err
	}
	slices.Reverse(entries)
	export.Entries = entries
	return export, nil
}

func printEntries(w io.Writer, entries []audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tEVENT\tSUBJECT\tREMOTE\tMETHOD\tURL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339),
			e.EventType,
			dashIfEmpty(e.SubjectID),
			dashIfEmpty(e.RemoteAddr),
			dashIfEmpty(e.Method),
			dashIfEmpty(e.URL),
		)
	}
	return tw.Flush()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
