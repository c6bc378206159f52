package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
	"github.com/openfroyo/msrv/pkg/version"
)

// maxDiagnosticLines bounds the check output quoted in human-readable reports.
const maxDiagnosticLines = 20

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes the result of a find or verify run followed by its ledger in catalog
// order.
func printReport(w io.Writer, report *engine.Report, asJSON bool) error {
	if asJSON {
		return writeJSON(w, report)
	}

	res := report.Result
	fmt.Fprintf(w, "%s\n\n", summary(res))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", report.RunID)
	if res.Strategy != "" {
		fmt.Fprintf(tw, "Strategy:\t%s\n", res.Strategy)
	}
	fmt.Fprintf(tw, "Candidates:\t%d (%d probed, %d resumed)\n", len(report.Candidates), report.Probes, report.Resumed)
	fmt.Fprintf(tw, "Duration:\t%s\n", report.Duration.Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}

	if res.Details != "" && res.Kind != engine.ResultVerificationFailed {
		fmt.Fprintf(w, "\n%s\n", res.Details)
	}

	if len(res.Entries) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "VERSION\tOUTCOME\tNOTE\n")
		for _, e := range res.Entries {
			note := e.Outcome.Reason
			if e.Resumed {
				note = strings.TrimSpace("resumed " + note)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Version, e.Outcome.Kind, firstLine(note))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if res.Kind == engine.ResultVerificationFailed && res.Details != "" {
		fmt.Fprintf(w, "\nCheck output:\n%s\n", lastLines(res.Details, maxDiagnosticLines))
	}
	return nil
}

func summary(r engine.Result) string {
	switch r.Kind {
	case engine.ResultMinimalCompatible:
		return fmt.Sprintf("Minimum supported version: %s", r.Version)
	case engine.ResultAllCompatible:
		return fmt.Sprintf("Every candidate is compatible; the minimum is %s or older", r.Version)
	case engine.ResultNoneCompatible:
		return "No candidate is compatible"
	case engine.ResultInconsistent:
		return "Inconsistent outcomes: compatibility is not monotonic"
	case engine.ResultCompatibilityMap:
		if r.Version == nil {
			return "Compatibility map: no candidate is compatible"
		}
		if r.Details != "" {
			return fmt.Sprintf("Compatibility map: oldest compatible version %s (irregular)", r.Version)
		}
		return fmt.Sprintf("Compatibility map: minimum supported version %s", r.Version)
	case engine.ResultVerified:
		return fmt.Sprintf("Verified: %s is compatible", r.Version)
	case engine.ResultVerificationFailed:
		return fmt.Sprintf("Verification failed: %s is not compatible", r.Version)
	default:
		return string(r.Kind)
	}
}

func printCandidates(w io.Writer, vs []version.Version, asJSON bool) error {
	if asJSON {
		if vs == nil {
			vs = []version.Version{}
		}
		return writeJSON(w, vs)
	}
	for _, v := range vs {
		fmt.Fprintln(w, v)
	}
	return nil
}

func printRuns(w io.Writer, runs []*stores.Run, asJSON bool) error {
	if asJSON {
		if runs == nil {
			runs = []*stores.Run{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\tMODE\tSTATUS\tRESULT\tVERSION\tPROBES\tSTARTED\tPROJECT\n")
	for _, r := range runs {
		result := r.ResultKind
		if result == "" {
			result = "-"
		}
		v := r.ResultVersion
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.Mode, r.Status, result, v, r.Probes, r.Candidates,
			r.StartedAt.Local().Format(time.DateTime), r.ProjectPath)
	}
	return tw.Flush()
}

// runDetail is the JSON form of a single run with its ledger.
type runDetail struct {
	*stores.Run
	Entries []engine.LedgerEntry `json:"entries"`
}

func printRun(w io.Writer, run *stores.Run, entries []engine.LedgerEntry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []engine.LedgerEntry{}
		}
		return writeJSON(w, runDetail{Run: run, Entries: entries})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	fmt.Fprintf(tw, "Mode:\t%s\n", run.Mode)
	fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	fmt.Fprintf(tw, "Project:\t%s\n", run.ProjectPath)
	fmt.Fprintf(tw, "Command:\t%s\n", strings.Join(run.Command, " "))
	if run.Target != "" {
		fmt.Fprintf(tw, "Target:\t%s\n", run.Target)
	}
	if run.Strategy != "" {
		fmt.Fprintf(tw, "Strategy:\t%s\n", run.Strategy)
	}
	if run.ResultKind != "" {
		fmt.Fprintf(tw, "Result:\t%s %s\n", run.ResultKind, run.ResultVersion)
	}
	if run.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", firstLine(run.Error))
	}
	fmt.Fprintf(tw, "Started:\t%s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(tw, "Duration:\t%s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(entries) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "VERSION\tOUTCOME\tRECORDED\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Version, e.Outcome.Kind, e.Timestamp.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return "...\n" + strings.Join(lines[len(lines)-n:], "\n")
}
