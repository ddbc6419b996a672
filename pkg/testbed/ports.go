package testbed

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/newtron-network/newtval/pkg/util"
)

var portNotation = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:@(\d+))?`)

// ParsePTFIndices resolves host interface entries to PTF port indices for
// one DUT. Each entry is a comma-separated group of:
//
//	a       PTF index a (single-DUT testbeds, kept unconditionally)
//	a.b     DUT a, port b; PTF index b
//	a.b@c   DUT a, port b; PTF index c
//
// Entries for other DUTs are dropped.
func ParsePTFIndices(hostInterfaces []string, dutIndex string) ([]int, error) {
	var indices []int
	for _, entry := range hostInterfaces {
		for _, port := range strings.Split(entry, ",") {
			port = strings.TrimSpace(port)
			m := portNotation.FindStringSubmatch(port)
			if m == nil {
				return nil, fmt.Errorf("host interface %q: %w", port, util.ErrInvalidConfig)
			}
			dut, portIdx, ptfIdx := m[1], m[2], m[3]
			switch {
			case ptfIdx != "":
				if dut == dutIndex {
					indices = append(indices, atoi(ptfIdx))
				}
			case portIdx != "":
				if dut == dutIndex {
					indices = append(indices, atoi(portIdx))
				}
			default:
				indices = append(indices, atoi(dut))
			}
		}
	}
	return indices, nil
}

// atoi on a string the notation regexp already proved to be digits.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
