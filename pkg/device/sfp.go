package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/newtron-network/newtval/pkg/util"
)

// ParseKeyValueOutput parses "key value" lines. Lines with any other
// number of fields are skipped.
func ParseKeyValueOutput(lines []string) map[string]string {
	res := make(map[string]string)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		res[fields[0]] = fields[1]
	}
	return res
}

var eepromLine = regexp.MustCompile(`^Ethernet\d+: .*`)

// ParseEEPROM parses `sfputil show eeprom` summary lines
// ("Ethernet0: SFP EEPROM detected") into port -> status.
func ParseEEPROM(lines []string) map[string]string {
	res := make(map[string]string)
	for _, line := range lines {
		if !eepromLine.MatchString(line) {
			continue
		}
		fields := strings.Split(line, ":")
		res[fields[0]] = strings.TrimSpace(fields[1])
	}
	return res
}

// ValidateTransceiverLPMode checks `sfputil show lpmode` output: a
// "Port  Low-power Mode" header, a separator line, then one "<port> On|Off"
// line per port.
func ValidateTransceiverLPMode(output string) error {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if strings.ReplaceAll(lines[0], " ", "") != "PortLow-powerMode" {
		return util.NewValidationError("invalid lpmode output: header missing")
	}
	v := &util.ValidationBuilder{}
	for _, line := range lines[min(2, len(lines)):] {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			v.AddErrorf("invalid lpmode line %q", strings.TrimSpace(line))
			continue
		}
		port, mode := fields[0], fields[1]
		if mode != "On" && mode != "Off" {
			v.AddErrorf("invalid low-power mode %s for port %s", mode, port)
		}
	}
	return v.Build()
}

// TransceiverLPMode returns the raw `sfputil show lpmode` output.
func (h *Host) TransceiverLPMode() (string, error) {
	out, err := h.Shell("sudo sfputil show lpmode")
	if err != nil {
		return out, fmt.Errorf("sfputil show lpmode on %s: %w", h.Name, err)
	}
	return out, nil
}

// TransceiverEEPROM returns port -> EEPROM detection status.
func (h *Host) TransceiverEEPROM() (map[string]string, error) {
	lines, err := h.ShellLines("sudo sfputil show eeprom")
	if err != nil {
		return nil, fmt.Errorf("sfputil show eeprom on %s: %w", h.Name, err)
	}
	return ParseEEPROM(lines), nil
}

// TransceiverPresence returns port -> presence from `sfputil show presence`.
func (h *Host) TransceiverPresence() (map[string]string, error) {
	lines, err := h.ShellLines("sudo sfputil show presence")
	if err != nil {
		return nil, fmt.Errorf("sfputil show presence on %s: %w", h.Name, err)
	}
	return ParseKeyValueOutput(lines), nil
}
