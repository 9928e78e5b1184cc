package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/showcase/audit"
)

// ---------------------------------------------------------------------------
// Verification result types
// ---------------------------------------------------------------------------

type verifyResult struct {
	Source     string        `json:"source"`
	EntryCount int           `json:"entry_count"`
	Valid      bool          `json:"valid"`
	Checks     []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *verifyResult) pass(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
}

func (r *verifyResult) fail(name, detail string) {
	r.Valid = false
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
}

func (r *verifyResult) warn(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
}

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

func verifyAuditChain(export auditExport) verifyResult {
	entries := export.Entries
	result := verifyResult{
		EntryCount: len(entries),
		Valid:      true,
	}

	// Empty chain is valid.
	if len(entries) == 0 {
		result.pass("empty_chain", "no entries to verify")
		return result
	}

	// 1. Genesis anchor.
	if entries[0].PrevHash == audit.GenesisHash {
		result.pass("genesis_anchor", "")
	} else {
		result.fail("genesis_anchor",
			fmt.Sprintf("first entry prevHash=%s, expected genesis hash", entries[0].PrevHash))
	}

	// 2. Entry hashes cover their contents.
	hashDetail := ""
	for i, e := range entries {
		got, err := audit.ComputeHash(e)
		if err != nil {
			hashDetail = fmt.Sprintf("entry %d (id=%s) cannot be hashed: %v", i, e.ID, err)
			break
		}
		if got != e.Hash {
			hashDetail = fmt.Sprintf("entry %d (id=%s) was modified: hash=%s, computed %s", i, e.ID, e.Hash, got)
			break
		}
	}
	if hashDetail == "" {
		result.pass("entry_hashes", "")
	} else {
		result.fail("entry_hashes", hashDetail)
	}

	// 3. Chain continuity.
	chainDetail := ""
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			chainDetail = fmt.Sprintf("entry %d (id=%s) has prevHash=%s but entry %d has hash %s",
				i, entries[i].ID, entries[i].PrevHash, i-1, entries[i-1].Hash)
			break
		}
	}
	if chainDetail == "" {
		result.pass("chain_continuity", fmt.Sprintf("all %d entries link correctly", len(entries)))
	} else {
		result.fail("chain_continuity", chainDetail)
	}

	// 4. No duplicate IDs.
	seen := make(map[string]int, len(entries))
	dupDetail := ""
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			dupDetail = fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID)
			break
		}
		seen[e.ID] = i
	}
	if dupDetail == "" {
		result.pass("no_duplicate_ids", "")
	} else {
		result.fail("no_duplicate_ids", dupDetail)
	}

	// 5. Monotonic timestamps. Clock skew between server instances is
	// possible, so this only warns.
	tsDetail := ""
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			tsDetail = fmt.Sprintf("entry %d (timestamp=%s) is earlier than entry %d",
				i, entries[i].Timestamp.Format(time.RFC3339Nano), i-1)
			break
		}
	}
	if tsDetail == "" {
		result.pass("monotonic_timestamps", "")
	} else {
		result.warn("monotonic_timestamps", tsDetail)
	}

	return result
}

// verifyStoredChain checks the live security log by walking it from the head.
func verifyStoredChain(ctx context.Context, store *audit.Store) (verifyResult, error) {
	result := verifyResult{Valid: true}
	total, err := store.Count(ctx)
	if err != nil {
		return verifyResult{}, err
	}
	result.EntryCount = total

	n, err := store.VerifyChain(ctx)
	switch {
	case err == nil:
		result.pass("stored_chain", fmt.Sprintf("all %d entries link back to genesis", n))
	case errors.Is(err, audit.ErrChainBroken):
		result.fail("stored_chain", fmt.Sprintf("%v (%d entries verified from the head)", err, n))
	default:
		return verifyResult{}, err
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Security log verification: %s\n", result.Source)
	fmt.Fprintf(w, "Entries: %d\n\n", result.EntryCount)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

func printJSONResult(w io.Writer, result verifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the integrity of the security log",
	Long: `Without arguments, walks the configured security log from its head back
to the genesis hash and checks every link.

With a file (written by "showcase audit export"), verifies the export
offline: genesis anchor, entry hashes, chain continuity, duplicate ids and
timestamp ordering.

Exits 1 when the chain is invalid and 2 when it could not be read.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	var result verifyResult
	if len(args) == 1 {
		filePath := args[0]
		data, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot read file: %v\n", err)
			os.Exit(2)
		}
		var export auditExport
		if err := json.Unmarshal(data, &export); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
			os.Exit(2)
		}
		result = verifyAuditChain(export)
		result.Source = filePath
	} else {
		err := withSecurityLog(cmd, func(ctx context.Context, store *audit.Store) error {
			var err error
			result, err = verifyStoredChain(ctx, store)
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		result.Source = "configured storage"
	}

	out := cmd.OutOrStdout()
	if verifyJSONOutput {
		if err := printJSONResult(out, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(out, result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
