package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/toolchain"
	"github.com/openfroyo/msrv/pkg/version"
)

// DefaultReleaseRepository is the repository whose tags list the published releases.
const DefaultReleaseRepository = "https://github.com/rust-lang/rust"

// maxIndexSize bounds the body read from an HTTP release index.
const maxIndexSize = 8 << 20

// Static is a fixed release list.
type Static struct {
	Versions []version.Version
}

// NewStatic parses versions into a static catalog. Versions may omit the patch component.
func NewStatic(versions ...string) (*Static, error) {
	vs := make([]version.Version, 0, len(versions))
	for _, s := range versions {
		v, err := version.ParseBare(s)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return &Static{Versions: vs}, nil
}

// ListCandidates returns the versions sorted and de-duplicated.
func (s *Static) ListCandidates(ctx context.Context) ([]version.Version, error) {
	vs := make([]version.Version, len(s.Versions))
	copy(vs, s.Versions)
	return Normalize(vs), nil
}

// File reads a release list from disk. The format follows the extension: .yaml and .yml are
// YAML, anything else is plain text.
type File struct {
	Path string
}

// ListCandidates reads and parses the file.
func (f *File) ListCandidates(ctx context.Context) ([]version.Version, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &engine.CatalogError{Source: f.Path, Err: err}
	}

	vs, err := Parse(data, formatFor(f.Path, ""), true)
	if err != nil {
		return nil, &engine.CatalogError{Source: f.Path, Err: err}
	}

	log.Debug().Str("path", f.Path).Int("releases", len(vs)).Msg("Loaded release catalog")
	return vs, nil
}

// HTTP fetches a release list from a URL. YAML is detected from the Content-Type or the
// URL extension; anything else is parsed as plain text.
type HTTP struct {
	URL    string
	Client *http.Client

	// Timeout bounds the whole request when Client is nil. Defaults to 30 seconds.
	Timeout time.Duration
}

// ListCandidates fetches and parses the index.
func (h *HTTP) ListCandidates(ctx context.Context) ([]version.Version, error) {
	client := h.Client
	if client == nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, &engine.CatalogError{Source: h.URL, Err: err}
	}
	req.Header.Set("Accept", "text/plain, application/yaml;q=0.9, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &engine.CatalogError{Source: h.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &engine.CatalogError{Source: h.URL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		return nil, &engine.CatalogError{Source: h.URL, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	vs, err := Parse(data, formatFor(req.URL.Path, resp.Header.Get("Content-Type")), true)
	if err != nil {
		return nil, &engine.CatalogError{Source: h.URL, Err: err}
	}

	log.Debug().Str("url", h.URL).Int("releases", len(vs)).Msg("Fetched release catalog")
	return vs, nil
}

// Command lists releases from the output of a command. The default lists the tags of
// DefaultReleaseRepository with git.
type Command struct {
	Runner toolchain.Runner
	Argv   []string
}

// NewGitTags creates a catalog listing the version tags of a git repository.
func NewGitTags(runner toolchain.Runner, repository string) *Command {
	if repository == "" {
		repository = DefaultReleaseRepository
	}
	return &Command{
		Runner: runner,
		Argv:   []string{"git", "ls-remote", "--tags", "--refs", repository},
	}
}

// ListCandidates runs the command and extracts every version tag from its output.
func (c *Command) ListCandidates(ctx context.Context) ([]version.Version, error) {
	source := strings.Join(c.Argv, " ")
	if c.Runner == nil || len(c.Argv) == 0 {
		return nil, &engine.CatalogError{Source: source, Err: errors.New("no command configured")}
	}

	res, err := c.Runner.Run(ctx, toolchain.Command{Argv: c.Argv})
	if err != nil {
		return nil, &engine.CatalogError{Source: source, Err: err}
	}
	if !res.Success() {
		return nil, &engine.CatalogError{
			Source: source,
			Err:    fmt.Errorf("exited with status %d: %s", res.ExitCode, strings.TrimSpace(res.Output)),
		}
	}

	vs := ParseRefs([]byte(res.Output))
	if len(vs) == 0 {
		return nil, &engine.CatalogError{Source: source, Err: errors.New("no release tags found")}
	}
	return vs, nil
}

// Open selects a supplier for source: an http(s) URL is fetched, "git" or a git+ URL lists
// repository tags through runner, anything else is read as a file.
func Open(source string, runner toolchain.Runner) (engine.Catalog, error) {
	switch {
	case source == "":
		return nil, errors.New("catalog source is required")
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return &HTTP{URL: source}, nil
	case source == "git", strings.HasPrefix(source, "git+"):
		if runner == nil {
			return nil, errors.New("a command runner is required for git catalogs")
		}
		return NewGitTags(runner, strings.TrimPrefix(strings.TrimPrefix(source, "git"), "+")), nil
	default:
		return &File{Path: source}, nil
	}
}

func formatFor(path, contentType string) Format {
	if strings.Contains(contentType, "yaml") {
		return FormatYAML
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatText
}
