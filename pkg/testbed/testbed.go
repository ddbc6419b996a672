// Package testbed loads the lab inventory that validation cases run against:
// which switches are under test, how to reach them and their consoles, and
// how their front-panel ports map onto the packet-injection host.
package testbed

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtval/pkg/console"
	"github.com/newtron-network/newtval/pkg/util"
)

// Testbed is a parsed testbed file. It is read-only after Load.
type Testbed struct {
	Name    string          `yaml:"name"`
	Topo    Topo            `yaml:"topo"`
	DUTsMap map[string]int  `yaml:"duts_map"`
	DUTs    map[string]*DUT `yaml:"duts"`
	PTF     PTFHost         `yaml:"ptf"`
}

// Topo is the topology block. Only the host-facing port lists are used.
type Topo struct {
	Name       string         `yaml:"name"`
	Properties TopoProperties `yaml:"properties"`
}

// TopoProperties wraps the topology definition.
type TopoProperties struct {
	Topology TopologyDef `yaml:"topology"`
}

// TopologyDef lists the host-facing ports in compact port notation
// ("a", "a.b" or "a.b@c", comma-separated per entry).
type TopologyDef struct {
	HostInterfaces         []string `yaml:"host_interfaces"`
	DisabledHostInterfaces []string `yaml:"disabled_host_interfaces,omitempty"`
}

// DUT is one switch under test.
type DUT struct {
	Name     string `yaml:"-"`
	MgmtIP   string `yaml:"mgmt_ip"`
	SSHUser  string `yaml:"ssh_user"`
	SSHPass  string `yaml:"ssh_pass"`
	SSHPort  int    `yaml:"ssh_port,omitempty"`
	AsicType string `yaml:"asic_type"`

	// PTFIndices maps DUT interface names to PTF port indices.
	PTFIndices map[string]int `yaml:"ptf_indices"`

	Console *ConsoleLine `yaml:"console,omitempty"`
}

// ConsoleLine is the console server line wired to a DUT.
type ConsoleLine struct {
	Host      string   `yaml:"host"`
	SSHPort   int      `yaml:"ssh_port,omitempty"`
	Type      string   `yaml:"type"`
	Port      int      `yaml:"port"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	Passwords []string `yaml:"device_passwords,omitempty"`
}

// PTFHost is the packet-injection host.
type PTFHost struct {
	MgmtIP  string `yaml:"mgmt_ip"`
	SSHUser string `yaml:"ssh_user"`
	SSHPass string `yaml:"ssh_pass"`
	SSHPort int    `yaml:"ssh_port,omitempty"`
}

// Load reads and validates a testbed file.
func Load(path string) (*Testbed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading testbed %s: %w", path, err)
	}
	tb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("testbed %s: %w", path, err)
	}
	return tb, nil
}

// Parse decodes and validates testbed YAML.
func Parse(data []byte) (*Testbed, error) {
	var tb Testbed
	if err := yaml.Unmarshal(data, &tb); err != nil {
		return nil, fmt.Errorf("parsing testbed: %w", err)
	}
	for name, d := range tb.DUTs {
		if d == nil {
			d = &DUT{}
			tb.DUTs[name] = d
		}
		d.Name = name
	}
	if err := tb.Validate(); err != nil {
		return nil, err
	}
	return &tb, nil
}

// Validate checks cross-references between duts_map and duts.
func (tb *Testbed) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(tb.Name != "", "testbed name is required")
	v.Add(len(tb.DUTs) > 0, "at least one DUT is required")
	for _, name := range sortedKeys(tb.DUTs) {
		d := tb.DUTs[name]
		if _, ok := tb.DUTsMap[name]; !ok {
			v.AddErrorf("DUT %s is missing from duts_map", name)
		}
		v.Add(d.MgmtIP != "", fmt.Sprintf("DUT %s: mgmt_ip is required", name))
		if d.Console != nil {
			v.Add(d.Console.Host != "", fmt.Sprintf("DUT %s: console host is required", name))
			v.Add(d.Console.Type != "", fmt.Sprintf("DUT %s: console type is required", name))
		}
	}
	for _, name := range sortedKeys(tb.DUTsMap) {
		if _, ok := tb.DUTs[name]; !ok {
			v.AddErrorf("duts_map entry %s has no DUT definition", name)
		}
	}
	return v.Build()
}

// DUT returns the named DUT.
func (tb *Testbed) DUT(name string) (*DUT, error) {
	d, ok := tb.DUTs[name]
	if !ok {
		return nil, fmt.Errorf("DUT %s: %w", name, util.ErrNotFound)
	}
	return d, nil
}

// DUTNames returns DUT names ordered by their duts_map index.
func (tb *Testbed) DUTNames() []string {
	names := sortedKeys(tb.DUTs)
	sort.SliceStable(names, func(i, j int) bool {
		return tb.DUTsMap[names[i]] < tb.DUTsMap[names[j]]
	})
	return names
}

// DUTIndex returns the duts_map index of a DUT as it appears in port
// notation.
func (tb *Testbed) DUTIndex(name string) (string, error) {
	idx, ok := tb.DUTsMap[name]
	if !ok {
		return "", fmt.Errorf("DUT %s not in duts_map: %w", name, util.ErrNotFound)
	}
	return strconv.Itoa(idx), nil
}

// HostInterfaces returns host_interfaces minus disabled_host_interfaces.
func (tb *Testbed) HostInterfaces() []string {
	disabled := make(map[string]bool)
	for _, d := range tb.Topo.Properties.Topology.DisabledHostInterfaces {
		disabled[d] = true
	}
	var out []string
	for _, h := range tb.Topo.Properties.Topology.HostInterfaces {
		if !disabled[h] {
			out = append(out, h)
		}
	}
	return out
}

// PTFIndicesFor resolves the enabled host interfaces to PTF indices for
// the named DUT.
func (tb *Testbed) PTFIndicesFor(dutName string) ([]int, error) {
	idx, err := tb.DUTIndex(dutName)
	if err != nil {
		return nil, err
	}
	return ParsePTFIndices(tb.HostInterfaces(), idx)
}

// InterfaceForPTFIndex returns the DUT interface wired to a PTF index.
func (d *DUT) InterfaceForPTFIndex(index int) (string, bool) {
	for _, name := range sortedKeys(d.PTFIndices) {
		if d.PTFIndices[name] == index {
			return name, true
		}
	}
	return "", false
}

// InterfacesForPTFIndices returns, sorted, the DUT interfaces whose PTF
// index is in indices.
func (d *DUT) InterfacesForPTFIndices(indices []int) []string {
	want := make(map[int]bool, len(indices))
	for _, i := range indices {
		want[i] = true
	}
	var out []string
	for _, name := range sortedKeys(d.PTFIndices) {
		if want[d.PTFIndices[name]] {
			out = append(out, name)
		}
	}
	return out
}

// IsVirtual reports whether the DUT is a virtual switch, where hardware
// counters and server-side monitors are not meaningful.
func (d *DUT) IsVirtual() bool {
	return d.AsicType == "vs"
}

// ConsoleConfig builds a console session config for the DUT.
func (d *DUT) ConsoleConfig() (console.Config, error) {
	if d.Console == nil {
		return console.Config{}, fmt.Errorf("DUT %s has no console line: %w", d.Name, util.ErrNotFound)
	}
	passwords := d.Console.Passwords
	if len(passwords) == 0 && d.SSHPass != "" {
		passwords = []string{d.SSHPass}
	}
	return console.Config{
		Host:            d.Console.Host,
		Port:            d.Console.SSHPort,
		Type:            console.Type(d.Console.Type),
		ConsoleUser:     d.Console.User,
		ConsolePassword: d.Console.Password,
		ConsolePort:     d.Console.Port,
		DeviceUser:      d.SSHUser,
		DevicePasswords: passwords,
	}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
