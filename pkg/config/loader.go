package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/msrv/pkg/version"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// DefaultFileNames are searched, in order, by Find.
var DefaultFileNames = []string{"msrv.yaml", "msrv.yml", "msrv.cue"}

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("no configuration file found")

// DefaultRunConfig returns the configuration used when no file is present: a cargo
// project checked with toolchains installed by rustup.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Project: ".",
		Check: CheckConfig{
			Command: []string{"cargo", "build", "--all"},
		},
		Toolchain: ToolchainConfig{
			Install:   []string{"rustup", "toolchain", "install", "--profile", "minimal", "--no-self-update", "{version}"},
			Installed: []string{"rustup", "run", "{version}", "rustc", "--version"},
			Wrapper:   []string{"rustup", "run", "{version}"},
		},
		Catalog: CatalogConfig{
			Source: "git",
		},
		Search: SearchConfig{
			Strategy: "bisect",
			Workers:  4,
		},
	}
}

// FormatForPath returns the format implied by a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported configuration file %s: expected .yaml, .yml, .json or .cue", path)
	}
}

// Find returns the first of DefaultFileNames present in dir.
func Find(dir string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// Load reads a configuration file over DefaultRunConfig and validates the result.
// A relative Project is resolved against the directory of path.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Project) {
		cfg.Project = filepath.Join(filepath.Dir(path), cfg.Project)
	}
	return cfg, nil
}

// Parse decodes data over DefaultRunConfig and validates the result. filename is used in
// error positions only.
func Parse(data []byte, format Format, filename string) (*RunConfig, error) {
	cfg := DefaultRunConfig()

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, ValidationErrors{yamlError(filename, err)}
		}
	case FormatCUE:
		if errs := decodeCUE(data, filename, cfg); len(errs) > 0 {
			return nil, errs
		}
	default:
		return nil, fmt.Errorf("unknown configuration format %q", format)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeCUE(data []byte, filename string, cfg *RunConfig) ValidationErrors {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	if err := val.Decode(cfg); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to positioned validation errors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: e.Error()}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func yamlError(filename string, err error) ValidationError {
	ve := ValidationError{File: filename, Message: err.Error()}
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		ve.Message = strings.Join(typeErr.Errors, "; ")
	}
	return ve
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("version", func(fl validator.FieldLevel) bool {
		_, err := version.ParseBare(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks cfg against its struct constraints.
func Validate(cfg *RunConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    strings.TrimPrefix(fe.Namespace(), "RunConfig."),
			Message: validationMessage(fe),
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "version":
		return fmt.Sprintf("invalid version %q", fe.Value())
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "hostname_port":
		return fmt.Sprintf("invalid listen address %q", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Marshal encodes cfg in the given format.
func Marshal(cfg *RunConfig, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatCUE:
		val := cuecontext.New().Encode(cfg)
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to encode CUE: %w", err)
		}
		node := val.Syntax(cue.Concrete(true))
		if s, ok := node.(*ast.StructLit); ok {
			node = &ast.File{Decls: s.Elts}
		}
		return format.Node(node)
	default:
		return nil, fmt.Errorf("unknown configuration format %q", f)
	}
}
