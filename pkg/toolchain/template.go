package toolchain

import (
	"strings"

	"github.com/openfroyo/msrv/pkg/version"
)

// Vars are the values substituted into command templates.
type Vars struct {
	Version    version.Version
	Target     string
	Project    string
	InstallDir string
}

func (v Vars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{version}", v.Version.String(),
		"{target}", v.Target,
		"{project}", v.Project,
		"{install_dir}", v.InstallDir,
	)
}

// Expand substitutes {version}, {target}, {project} and {install_dir} in every argument.
// An argument made only of placeholders that expands to nothing is dropped, so that an
// optional "{target}" disappears when no target is configured.
func Expand(argv []string, vars Vars) []string {
	r := vars.replacer()

	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		expanded := r.Replace(arg)
		if expanded == "" && arg != "" {
			continue
		}
		out = append(out, expanded)
	}
	return out
}

// ExpandEnv substitutes placeholders in environment values.
func ExpandEnv(env map[string]string, vars Vars) map[string]string {
	if len(env) == 0 {
		return nil
	}

	r := vars.replacer()
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = r.Replace(v)
	}
	return out
}
