package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/newtron-network/newtval/pkg/newtest"
	"github.com/newtron-network/newtval/pkg/testbed"
)

// resolveSuitePath resolves a suite argument to a file. A bare name like
// "nightly" is looked up as <suites_dir>/nightly.yaml.
func resolveSuitePath(name string) (string, error) {
	if strings.Contains(name, "/") || filepath.Ext(name) == ".yaml" || filepath.Ext(name) == ".yml" {
		return name, nil
	}
	dir := suitesDir()
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(dir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("suite %q not found in %s", name, dir)
}

// suitesDir returns the suites directory: env > settings > default.
func suitesDir() string {
	if v := os.Getenv("NEWTVAL_SUITES"); v != "" {
		return v
	}
	if userSettings != nil && userSettings.SuitesDir != "" {
		return userSettings.SuitesDir
	}
	return "suites"
}

// resolveTestbedPath picks the testbed file: flag > suite > env > settings.
func resolveTestbedPath(suite *newtest.Suite) (string, error) {
	if testbedPath != "" {
		return testbedPath, nil
	}
	if suite != nil && suite.Testbed != "" {
		return suite.Testbed, nil
	}
	if v := os.Getenv("NEWTVAL_TESTBED"); v != "" {
		return v, nil
	}
	if userSettings != nil && userSettings.Testbed != "" {
		return userSettings.Testbed, nil
	}
	return "", fmt.Errorf("no testbed: use --testbed or: newtval settings set testbed <file>")
}

func loadTestbed(suite *newtest.Suite) (*testbed.Testbed, error) {
	path, err := resolveTestbedPath(suite)
	if err != nil {
		return nil, err
	}
	return testbed.Load(path)
}

// requireDUT returns the named DUT, or the only DUT when name is empty.
func requireDUT(tb *testbed.Testbed, name string) (*testbed.DUT, error) {
	if name == "" {
		if userSettings != nil && userSettings.DefaultDUT != "" {
			name = userSettings.DefaultDUT
		} else if names := tb.DUTNames(); len(names) == 1 {
			name = names[0]
		} else {
			return nil, fmt.Errorf("testbed %s has %d DUTs; name one of %v", tb.Name, len(names), names)
		}
	}
	return tb.DUT(name)
}
