package device

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/util"
)

// FeatureStatus returns the configured state of every FEATURE entry
// ("enabled", "disabled", "always_enabled", ...).
func (h *Host) FeatureStatus() (map[string]string, error) {
	db, err := h.store("config_db", h.dbs.Config)
	if err != nil {
		return nil, err
	}
	names, err := db.TableKeys("FEATURE")
	if err != nil {
		return nil, err
	}
	status := make(map[string]string, len(names))
	for _, name := range names {
		entry, err := db.GetEntry("FEATURE", name)
		if err != nil {
			return nil, err
		}
		status[name] = entry["state"]
	}
	return status, nil
}

// ACLTable is a CONFIG_DB ACL_TABLE entry.
type ACLTable struct {
	Name  string
	Type  string
	Stage string
	Ports []string
}

// AddACLTable creates an ACL table bound to ports.
func (h *Host) AddACLTable(table ACLTable) error {
	if table.Name == "" || table.Type == "" {
		return util.NewValidationError("ACL table name and type are required")
	}
	cmd := fmt.Sprintf("sudo config acl add table %s %s", table.Name, table.Type)
	if table.Stage != "" {
		cmd += " -s " + table.Stage
	}
	if len(table.Ports) > 0 {
		cmd += " -p " + strings.Join(table.Ports, ",")
	}
	start := time.Now()
	out, err := h.Shell(cmd)
	audit.Record(h.Name, audit.OpACLAddTable, fmt.Sprintf("%s %s %s", table.Name, table.Type, table.Stage), start, err)
	if err != nil {
		return fmt.Errorf("adding ACL table %s on %s: %s: %w", table.Name, h.Name, strings.TrimSpace(out), err)
	}
	util.WithDevice(h.Name).Infof("Added ACL table %s (%s, %s) on %d ports", table.Name, table.Type, table.Stage, len(table.Ports))
	return nil
}

// RemoveACLTable deletes an ACL table and its rules.
func (h *Host) RemoveACLTable(name string) error {
	start := time.Now()
	out, err := h.Shell("sudo config acl remove table " + name)
	audit.Record(h.Name, audit.OpACLRemoveTable, name, start, err)
	if err != nil {
		return fmt.Errorf("removing ACL table %s on %s: %s: %w", name, h.Name, strings.TrimSpace(out), err)
	}
	util.WithDevice(h.Name).Infof("Removed ACL table %s", name)
	return nil
}

// GetACLTable reads an ACL table from CONFIG_DB.
func (h *Host) GetACLTable(name string) (*ACLTable, error) {
	db, err := h.store("config_db", h.dbs.Config)
	if err != nil {
		return nil, err
	}
	entry, err := db.GetEntry("ACL_TABLE", name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("ACL table %s: %w", name, util.ErrNotFound)
	}
	ports := util.SplitCommaSeparated(entry["ports@"])
	if len(ports) == 0 {
		ports = util.SplitCommaSeparated(entry["ports"])
	}
	sort.Strings(ports)
	return &ACLTable{
		Name:  name,
		Type:  entry["type"],
		Stage: entry["stage"],
		Ports: ports,
	}, nil
}

// LoadACLRules copies a rule file to the switch and replaces the table's
// rules with it.
func (h *Host) LoadACLRules(table string, rules []byte, dest string) error {
	if err := h.CopyFile(rules, dest); err != nil {
		return err
	}
	cmd := fmt.Sprintf("sudo acl-loader update full --table_name %s %s", table, dest)
	start := time.Now()
	out, err := h.Shell(cmd)
	audit.Record(h.Name, audit.OpACLLoadRules, table+" <- "+dest, start, err)
	if err != nil {
		return fmt.Errorf("loading ACL rules into %s on %s: %s: %w", table, h.Name, strings.TrimSpace(out), err)
	}
	return nil
}
