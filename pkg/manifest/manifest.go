// Package manifest reads the minimum toolchain version a project declares in its Cargo.toml.
//
// The version comes from package.rust-version, falling back to package.metadata.msrv for
// projects that predate the rust-version field. Both accept the bare "1.56" form.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/msrv/pkg/version"
)

// FileName is the manifest looked up in a project directory.
const FileName = "Cargo.toml"

// ErrNotFound is returned when the project has no manifest.
var ErrNotFound = errors.New("manifest not found")

// Manifest holds the parts of Cargo.toml relevant to the minimum version.
type Manifest struct {
	Package struct {
		// RustVersion is usually a string, but may be a table such as
		// {workspace = true}; anything but a string is ignored.
		RustVersion any `toml:"rust-version"`

		Metadata struct {
			MSRV any `toml:"msrv"`
		} `toml:"metadata"`
	} `toml:"package"`
}

// Parse decodes manifest contents.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Read loads and decodes the manifest at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// MinimumVersion returns the declared minimum version, or nil when none is declared.
func (m *Manifest) MinimumVersion() (*version.Version, error) {
	field, raw := "package.rust-version", m.Package.RustVersion
	if _, ok := raw.(string); !ok {
		field, raw = "package.metadata.msrv", m.Package.Metadata.MSRV
	}

	s, ok := raw.(string)
	if !ok {
		return nil, nil
	}
	v, err := version.ParseBare(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &v, nil
}

// MinimumVersion reads the minimum version declared by the manifest in projectDir. It
// returns ErrNotFound when the directory has no manifest.
func MinimumVersion(projectDir string) (*version.Version, error) {
	m, err := Read(filepath.Join(projectDir, FileName))
	if err != nil {
		return nil, err
	}
	return m.MinimumVersion()
}
