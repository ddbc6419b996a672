// Package newtest runs suites of registered validation cases against a
// testbed and reports the results.
package newtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtval/pkg/checks"
	"github.com/newtron-network/newtval/pkg/util"
)

// Suite is a parsed suite file: an ordered list of cases to run against one
// testbed.
type Suite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Testbed     string     `yaml:"testbed,omitempty"` // relative to the suite file
	Cases       []CaseSpec `yaml:"cases"`
}

// CaseSpec is one entry of a suite.
type CaseSpec struct {
	Name     string        `yaml:"name"`
	Params   checks.Params `yaml:"params,omitempty"`
	Requires []string      `yaml:"requires,omitempty"`
	Repeat   int           `yaml:"repeat,omitempty"`
}

// LoadSuite reads a suite file and returns a validated Suite. A relative
// testbed path is resolved against the suite file's directory, and a
// missing name defaults to the file name.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite %s: %w", path, err)
	}
	s, err := decodeSuite(data)
	if err != nil {
		return nil, fmt.Errorf("parsing suite %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if s.Testbed != "" && !filepath.IsAbs(s.Testbed) {
		s.Testbed = filepath.Join(filepath.Dir(path), s.Testbed)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s, nil
}

// ParseSuite decodes and validates suite YAML.
func ParseSuite(data []byte) (*Suite, error) {
	s, err := decodeSuite(data)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SuiteFromNames builds an ad-hoc suite running the named cases with
// default params.
func SuiteFromNames(name string, cases ...string) (*Suite, error) {
	s := &Suite{Name: name}
	for _, c := range cases {
		s.Cases = append(s.Cases, CaseSpec{Name: c})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every case is registered and listed once, and that
// requires only names cases listed earlier in the suite.
func (s *Suite) Validate() error {
	if len(s.Cases) == 0 {
		return fmt.Errorf("no cases: %w", util.ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		prefix := fmt.Sprintf("cases[%d]", i)
		if c.Name == "" {
			return fmt.Errorf("%s: name is required: %w", prefix, util.ErrInvalidConfig)
		}
		if _, err := checks.Lookup(c.Name); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if seen[c.Name] {
			return fmt.Errorf("%s: case %q listed twice: %w", prefix, c.Name, util.ErrInvalidConfig)
		}
		for _, req := range c.Requires {
			if !seen[req] {
				return fmt.Errorf("%s: requires %q, which is not listed before it: %w", prefix, req, util.ErrInvalidConfig)
			}
		}
		if c.Repeat < 0 {
			return fmt.Errorf("%s: repeat must not be negative: %w", prefix, util.ErrInvalidConfig)
		}
		if dst := c.Params.UpstreamDst; dst != "" && !util.IsValidIPv4(dst) {
			return fmt.Errorf("%s: upstream_dst %q is not an IPv4 address: %w", prefix, dst, util.ErrInvalidConfig)
		}
		seen[c.Name] = true
	}
	return nil
}

// CaseNames returns the case names in suite order.
func (s *Suite) CaseNames() []string {
	names := make([]string, len(s.Cases))
	for i, c := range s.Cases {
		names[i] = c.Name
	}
	return names
}
