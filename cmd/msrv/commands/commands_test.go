package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/msrv/pkg/config"
	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
)

// projectConfig installs nothing and treats every release before 1.56 as incompatible.
const projectConfig = `
check:
  command: ["sh", "-c", "case {version} in 1.5[0-5].0) echo too old; exit 1;; esac"]
toolchain:
  install: ["true"]
  installed: []
  wrapper: []
catalog:
  versions: ["1.50.0", "1.51.0", "1.52.0", "1.53.0", "1.54.0", "1.55.0",
             "1.56.0", "1.57.0", "1.58.0", "1.59.0", "1.60.0"]
`

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "msrv.yaml"), []byte(projectConfig), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func decodeReport(t *testing.T, out string) engine.Report {
	t.Helper()
	var report engine.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Failed to decode report: %v\n%s", err, out)
	}
	return report
}

func TestFind(t *testing.T) {
	dir := newProject(t)

	tests := []struct {
		name     string
		args     []string
		wantKind engine.ResultKind
		wantVer  string
		wantCode int
	}{
		{
			name:     "bisect",
			wantKind: engine.ResultMinimalCompatible,
			wantVer:  "1.56.0",
		},
		{
			name:     "linear descending",
			args:     []string{"--strategy", "linear", "--direction", "descending"},
			wantKind: engine.ResultMinimalCompatible,
			wantVer:  "1.56.0",
		},
		{
			name:     "exhaustive",
			args:     []string{"--strategy", "exhaustive", "--workers", "3"},
			wantKind: engine.ResultCompatibilityMap,
			wantVer:  "1.56.0",
		},
		{
			name:     "narrowed above the boundary",
			args:     []string{"--min", "1.58"},
			wantKind: engine.ResultAllCompatible,
			wantVer:  "1.58.0",
		},
		{
			name:     "check command after dash",
			args:     []string{"--", "false"},
			wantKind: engine.ResultNoneCompatible,
			wantCode: exitNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"find", dir, "--json"}, tt.args...)
			out, err := runCLI(t, args...)
			if tt.wantCode != 0 {
				if got := exitCode(err); got != tt.wantCode {
					t.Fatalf("Expected exit code %d, got %v", tt.wantCode, err)
				}
			} else if err != nil {
				t.Fatalf("find failed: %v", err)
			}

			report := decodeReport(t, out)
			if report.Result.Kind != tt.wantKind {
				t.Errorf("Expected result %s, got %s", tt.wantKind, report.Result.Kind)
			}
			got := ""
			if report.Result.Version != nil {
				got = report.Result.Version.String()
			}
			if got != tt.wantVer {
				t.Errorf("Expected version %q, got %q", tt.wantVer, got)
			}
		})
	}
}

func TestFindHumanOutput(t *testing.T) {
	out, err := runCLI(t, "find", newProject(t))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	for _, want := range []string{"Minimum supported version: 1.56.0", "Strategy:", "1.55.0", "incompatible"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestVerify(t *testing.T) {
	dir := newProject(t)

	out, err := runCLI(t, "verify", dir, "--version", "1.58", "--json")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report := decodeReport(t, out); report.Result.Kind != engine.ResultVerified {
		t.Errorf("Expected verified, got %s", report.Result.Kind)
	}

	out, err = runCLI(t, "verify", dir, "--version", "1.55")
	if got := exitCode(err); got != 1 {
		t.Fatalf("Expected exit code 1, got %v", err)
	}
	if !strings.Contains(out, "too old") {
		t.Errorf("Expected check output in report:\n%s", out)
	}

	if _, err := runCLI(t, "verify", dir); err == nil || !strings.Contains(err.Error(), "no version to verify") {
		t.Errorf("Expected missing version error, got %v", err)
	}
}

func TestVerifyReadsCargoManifest(t *testing.T) {
	dir := newProject(t)
	manifest := "[package]\nname = \"app\"\nrust-version = \"1.54\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "verify", dir, "--json")
	if got := exitCode(err); got != 1 {
		t.Fatalf("Expected exit code 1 for the manifest version, got %v", err)
	}
	report := decodeReport(t, out)
	if report.Result.Kind != engine.ResultVerificationFailed {
		t.Errorf("Expected verification_failed, got %s", report.Result.Kind)
	}
	if report.Result.Version == nil || report.Result.Version.String() != "1.54.0" {
		t.Errorf("Expected the manifest version 1.54.0, got %v", report.Result.Version)
	}

	// --version takes precedence over the manifest.
	out, err = runCLI(t, "verify", dir, "--version", "1.60", "--json")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report := decodeReport(t, out); report.Result.Kind != engine.ResultVerified {
		t.Errorf("Expected verified, got %s", report.Result.Kind)
	}
}

func TestFindResumeAndHistory(t *testing.T) {
	dir := newProject(t)
	db := filepath.Join(t.TempDir(), "msrv.db")

	out, err := runCLI(t, "find", dir, "--state", db, "--json")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	first := decodeReport(t, out)
	if first.Probes == 0 {
		t.Fatal("Expected the first run to probe")
	}

	out, err = runCLI(t, "find", dir, "--state", db, "--resume", "--json")
	if err != nil {
		t.Fatalf("resumed find failed: %v", err)
	}
	second := decodeReport(t, out)
	if second.Resumed != first.Probes {
		t.Errorf("Expected %d resumed entries, got %d", first.Probes, second.Resumed)
	}
	if second.Probes != 0 {
		t.Errorf("Expected no new probes, got %d", second.Probes)
	}
	if second.Result.Version == nil || second.Result.Version.String() != "1.56.0" {
		t.Errorf("Expected 1.56.0, got %v", second.Result.Version)
	}

	out, err = runCLI(t, "history", dir, "--state", db, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var runs []stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Failed to decode runs: %v\n%s", err, out)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Status != stores.RunStatusSucceeded || r.ResultVersion != "1.56.0" {
			t.Errorf("Unexpected run record: %+v", r)
		}
	}

	out, err = runCLI(t, "history", dir, "--state", db, "--run", first.RunID)
	if err != nil {
		t.Fatalf("history --run failed: %v", err)
	}
	if !strings.Contains(out, first.RunID) || !strings.Contains(out, "1.56.0") {
		t.Errorf("Unexpected run detail:\n%s", out)
	}

	// Another check command has another fingerprint.
	out, err = runCLI(t, "history", dir, "--state", db, "--json", "--", "true")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("Expected no runs for another command, got %s", out)
	}
}

func TestHistoryRequiresState(t *testing.T) {
	_, err := runCLI(t, "history", newProject(t))
	if err == nil || !strings.Contains(err.Error(), "no ledger database") {
		t.Errorf("Expected missing state error, got %v", err)
	}
}

func TestList(t *testing.T) {
	out, err := runCLI(t, "list", newProject(t), "--min", "1.58", "--json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var got []string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Failed to decode candidates: %v", err)
	}
	if diff := cmp.Diff([]string{"1.58.0", "1.59.0", "1.60.0"}, got); diff != "" {
		t.Errorf("Candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	if _, err := runCLI(t, "init", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	cfg, err := config.Load(filepath.Join(dir, "msrv.yaml"))
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}
	if diff := cmp.Diff(config.DefaultRunConfig().Check, cfg.Check); diff != "" {
		t.Errorf("Check mismatch (-want +got):\n%s", diff)
	}

	if _, err := runCLI(t, "init", dir); err == nil {
		t.Error("Expected init to refuse to overwrite")
	}
	if _, err := runCLI(t, "init", dir, "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}

	if _, err := runCLI(t, "init", dir, "--format", "cue"); err != nil {
		t.Fatalf("init --format cue failed: %v", err)
	}
	if _, err := config.Load(filepath.Join(dir, "msrv.cue")); err != nil {
		t.Errorf("Failed to load generated CUE config: %v", err)
	}

	if _, err := runCLI(t, "init", dir, "--format", "toml"); err == nil {
		t.Error("Expected unsupported format error")
	}
}

func TestLoadConfigRejectsMissingProject(t *testing.T) {
	_, err := runCLI(t, "list", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("Expected error for missing project directory")
	}
}
