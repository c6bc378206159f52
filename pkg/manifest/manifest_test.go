package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMinimumVersion(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     string
		wantErr  string
	}{
		{
			name: "rust-version",
			contents: `[package]
name = "some"
version = "0.1.0"
rust-version = "1.56"
`,
			want: "1.56.0",
		},
		{
			name: "three components",
			contents: `[package]
name = "some"
rust-version = "1.58.1"
`,
			want: "1.58.1",
		},
		{
			name: "metadata fallback",
			contents: `[package]
name = "some"

[package.metadata]
msrv = "1.50.0"
`,
			want: "1.50.0",
		},
		{
			name: "rust-version wins over metadata",
			contents: `[package]
rust-version = "1.60"

[package.metadata]
msrv = "1.40"
`,
			want: "1.60.0",
		},
		{
			name: "workspace inherited",
			contents: `[package]
name = "member"
rust-version.workspace = true
`,
		},
		{
			name: "none declared",
			contents: `[package]
name = "some"
edition = "2018"

[dependencies]
`,
		},
		{
			name:     "workspace root without package",
			contents: "[workspace]\nmembers = [\"a\"]\n",
		},
		{
			name: "malformed version",
			contents: `[package]
rust-version = "1.56.0.1"
`,
			wantErr: "package.rust-version",
		},
		{
			name: "malformed metadata version",
			contents: `[package.metadata]
msrv = "one"
`,
			wantErr: "package.metadata.msrv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.contents))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			v, err := m.MinimumVersion()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MinimumVersion failed: %v", err)
			}

			got := ""
			if v != nil {
				got = v.String()
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseInvalidTOML(t *testing.T) {
	if _, err := Parse([]byte("-[package]\nname = \"some\"\n")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestMinimumVersionFromProject(t *testing.T) {
	dir := t.TempDir()

	if _, err := MinimumVersion(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	contents := "[package]\nname = \"app\"\nrust-version = \"1.70\"\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := MinimumVersion(dir)
	if err != nil {
		t.Fatalf("MinimumVersion failed: %v", err)
	}
	if v == nil || v.String() != "1.70.0" {
		t.Errorf("expected 1.70.0, got %v", v)
	}
}
