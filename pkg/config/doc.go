// Package config loads the run configuration of msrv.
//
// A configuration file is YAML (msrv.yaml, msrv.yml) or CUE (msrv.cue). Values are decoded
// over DefaultRunConfig, so a file only needs the settings it changes:
//
//	check:
//	  command: [cargo, test, --no-run]
//	  timeout: 15m
//	search:
//	  strategy: linear
//	  direction: descending
//	  min_version: "1.56"
//
// The same file in CUE:
//
//	check: {
//		command: ["cargo", "test", "--no-run"]
//		timeout: "15m"
//	}
//	search: {
//		strategy:    "linear"
//		direction:   "descending"
//		min_version: "1.56"
//	}
//
// Decoded values are validated with struct tags (go-playground/validator). Problems are
// reported together as ValidationErrors with file positions where the decoder knows them.
//
// Command templates may reference {version}, {target}, {project} and {install_dir}; see
// package toolchain.
package config
