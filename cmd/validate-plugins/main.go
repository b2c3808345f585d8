package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mantonx/mediaconv/internal/plugins"
)

func main() {
	dir := flag.String("dir", "./plugins", "plugin directory to validate")
	flag.Parse()

	os.Exit(validate(*dir))
}

func validate(dir string) int {
	fmt.Printf("=== Plugin Validation: %s ===\n", dir)

	found, err := plugins.NewManifestParser().Discover(dir)
	failed := 0
	if err != nil {
		for _, e := range unwrapAll(err) {
			fmt.Printf("✗ %v\n", e)
			failed++
		}
	}

	for _, plugin := range found {
		fmt.Printf("✓ %s %s (%s) in %s\n", plugin.ID, plugin.Version, plugin.Type, plugin.Dir)

		if plugin.Type != plugins.TypeHWAccel {
			fmt.Printf("  ✗ unknown plugin type %q\n", plugin.Type)
			failed++
		}
		if info, err := os.Stat(plugin.BinaryPath()); err != nil {
			fmt.Printf("  ✗ entry point %s not built\n", plugin.BinaryPath())
			failed++
		} else if info.Mode()&0o111 == 0 {
			fmt.Printf("  ✗ entry point %s is not executable\n", plugin.BinaryPath())
			failed++
		}
		if len(plugin.Vendors) == 0 {
			fmt.Println("  • serves every vendor")
		} else {
			fmt.Printf("  • vendors: %v\n", plugin.Vendors)
		}
	}

	fmt.Printf("\n=== %d plugin(s), %d problem(s) ===\n", len(found), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// unwrapAll flattens an errors.Join result
func unwrapAll(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
