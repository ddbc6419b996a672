package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// CRMResource is the usage of one CRM-tracked resource.
type CRMResource struct {
	Used      int `json:"used"`
	Available int `json:"available"`
}

// CRMFacts maps resource names (ipv4_route, ipv4_nexthop, ...) to usage.
type CRMFacts map[string]CRMResource

// CRMMismatch is a resource whose usage differs between two snapshots.
type CRMMismatch struct {
	Resource string      `json:"resource"`
	Before   CRMResource `json:"before"`
	After    CRMResource `json:"after"`
}

// CRMFacts reads the CRM:STATS counters from COUNTERS_DB. Fields come in
// crm_stats_<resource>_used / crm_stats_<resource>_available pairs.
func (h *Host) CRMFacts() (CRMFacts, error) {
	db, err := h.store("counters_db", h.dbs.Counters)
	if err != nil {
		return nil, err
	}
	stats, err := db.GetEntry("CRM", "STATS")
	if err != nil {
		return nil, err
	}
	return ParseCRMStats(stats)
}

// ParseCRMStats converts a CRM:STATS hash into CRMFacts.
func ParseCRMStats(stats map[string]string) (CRMFacts, error) {
	facts := make(CRMFacts)
	for field, val := range stats {
		name, ok := strings.CutPrefix(field, "crm_stats_")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("CRM counter %s=%q: %w", field, val, err)
		}
		switch {
		case strings.HasSuffix(name, "_used"):
			r := facts[strings.TrimSuffix(name, "_used")]
			r.Used = n
			facts[strings.TrimSuffix(name, "_used")] = r
		case strings.HasSuffix(name, "_available"):
			r := facts[strings.TrimSuffix(name, "_available")]
			r.Available = n
			facts[strings.TrimSuffix(name, "_available")] = r
		}
	}
	return facts, nil
}

// CompareCRMFacts returns, sorted by resource, every resource whose usage
// differs between before and after. A resource present in only one
// snapshot counts as a mismatch against a zero value.
func CompareCRMFacts(before, after CRMFacts) []CRMMismatch {
	names := make(map[string]bool)
	for k := range before {
		names[k] = true
	}
	for k := range after {
		names[k] = true
	}
	var out []CRMMismatch
	for name := range names {
		b, a := before[name], after[name]
		if !cmp.Equal(b, a) {
			out = append(out, CRMMismatch{Resource: name, Before: b, After: a})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// DiffCRMFacts renders the difference between two snapshots, "" if equal.
func DiffCRMFacts(before, after CRMFacts) string {
	return cmp.Diff(before, after)
}
