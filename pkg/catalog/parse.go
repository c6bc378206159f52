package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/msrv/pkg/version"
)

// Format is the encoding of a release list.
type Format string

const (
	// FormatText is one version per line. Blank lines and lines starting with '#' are ignored.
	FormatText Format = "text"

	// FormatYAML is either a sequence of versions or a mapping with a "releases" sequence.
	FormatYAML Format = "yaml"
)

// releaseList is the YAML mapping form.
type releaseList struct {
	Releases []string `yaml:"releases"`
}

// Parse decodes a release list. Versions may omit the patch component. In strict mode any
// entry that is not a version is an error; otherwise it is skipped.
func Parse(data []byte, format Format, strict bool) ([]version.Version, error) {
	var raw []string
	switch format {
	case FormatYAML:
		var err error
		raw, err = parseYAML(data)
		if err != nil {
			return nil, err
		}
	case FormatText, "":
		raw = parseLines(data)
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}

	vs := make([]version.Version, 0, len(raw))
	for _, s := range raw {
		v, err := version.ParseBare(s)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		vs = append(vs, v)
	}
	return Normalize(vs), nil
}

func parseYAML(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse YAML release list: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	doc := node.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := doc.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode release sequence: %w", err)
		}
		return list, nil
	case yaml.MappingNode:
		var list releaseList
		if err := doc.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode release mapping: %w", err)
		}
		return list.Releases, nil
	default:
		return nil, fmt.Errorf("release list must be a sequence or a mapping with releases")
	}
}

func parseLines(data []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseRefs extracts versions from `git ls-remote --tags` output. Lines that do not name a
// version tag are skipped, as are peeled tag entries.
func ParseRefs(data []byte) []version.Version {
	var vs []version.Version
	for _, line := range parseLines(data) {
		fields := strings.Fields(line)
		ref := fields[len(fields)-1]
		if strings.HasSuffix(ref, "^{}") {
			continue
		}
		tag := strings.TrimPrefix(ref, "refs/tags/")
		v, err := version.Parse(tag)
		if err != nil {
			continue
		}
		vs = append(vs, v)
	}
	return Normalize(vs)
}

// Normalize sorts vs in place and drops duplicates.
func Normalize(vs []version.Version) []version.Version {
	version.Sort(vs)
	out := vs[:0]
	for i, v := range vs {
		if i > 0 && v.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, v)
	}
	return out
}
