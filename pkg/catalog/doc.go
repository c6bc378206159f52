// Package catalog supplies the ordered list of toolchain releases the search engine runs over.
//
// Suppliers:
//
//   - Static: a fixed list, used by tests and the --versions flag
//   - File: a local plain-text (one version per line) or YAML release list
//   - HTTP: the same formats fetched from a URL
//   - Command: the output of a command such as `git ls-remote --tags`, parsed leniently
//
// Every supplier returns strictly ascending, de-duplicated versions and reports failures as
// *engine.CatalogError. Use Open to pick a supplier from a source string.
package catalog
