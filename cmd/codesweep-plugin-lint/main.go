// Codesweep-plugin-lint validates analyzer plugin directories before they
// are installed: manifest syntax, name and version format, declared issue
// types, and the presence of the entry executable.
//
// Usage:
//
//	codesweep-plugin-lint /path/to/plugins
//	codesweep-plugin-lint /path/to/plugins/my-analyzer
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/codesweep/internal/plugin"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: codesweep-plugin-lint <plugin-dir-or-plugins-root>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	// A directory containing plugin.toml is a single plugin; anything else
	// is treated as a root holding one plugin per subdirectory.
	if _, err := os.Stat(filepath.Join(path, "plugin.toml")); err == nil {
		ext, err := plugin.LoadPlugin(path)
		if err != nil {
			return err
		}
		fmt.Printf("ok: %s (types %v)\n", ext.Name(), ext.Types())
		return nil
	}

	result, err := plugin.LoadDir(path)
	if err != nil {
		return err
	}
	for _, ext := range result.Plugins {
		fmt.Printf("ok: %s (types %v)\n", ext.Name(), ext.Types())
	}
	for _, perr := range result.Errors {
		fmt.Printf("invalid: %v\n", perr)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d invalid plugin(s)", len(result.Errors))
	}
	if len(result.Plugins) == 0 {
		return fmt.Errorf("no plugins found under %s", path)
	}
	return nil
}
