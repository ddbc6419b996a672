package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/newtron-network/newtval/pkg/device"
)

const eepromDetected = "SFP EEPROM detected"

func init() {
	register("transceiver-lpmode",
		"Every present transceiver has a readable EEPROM and sfputil reports a valid low-power mode for all ports",
		func() *Case {
			var dut DUT
			return &Case{
				Precondition: func(ctx context.Context, env *Env) error {
					d, _, err := env.SelectedDUT()
					if err != nil {
						return err
					}
					if d.IsVirtual() {
						return Skipf("no transceivers on virtual switch %s", d.Hostname())
					}
					dut = d
					return nil
				},
				Run: func(ctx context.Context, env *Env) (string, error) {
					present, err := checkTransceiverEEPROM(dut)
					if err != nil {
						return "", err
					}
					out, err := dut.TransceiverLPMode()
					if err != nil {
						return "", err
					}
					if err := device.ValidateTransceiverLPMode(out); err != nil {
						return "", &AssertionError{What: err.Error()}
					}
					ports := len(strings.Split(strings.TrimSpace(out), "\n")) - 2
					return fmt.Sprintf("%d ports report a valid low-power mode, %d transceivers present", max(ports, 0), present), nil
				},
			}
		})
}

// checkTransceiverEEPROM requires a detected EEPROM on every port that
// reports a present transceiver, and returns how many are present.
func checkTransceiverEEPROM(dut DUT) (int, error) {
	presence, err := dut.TransceiverPresence()
	if err != nil {
		return 0, err
	}
	eeprom, err := dut.TransceiverEEPROM()
	if err != nil {
		return 0, err
	}
	var present, missing []string
	for port, status := range presence {
		if status != "Present" {
			continue
		}
		present = append(present, port)
		if eeprom[port] != eepromDetected {
			missing = append(missing, fmt.Sprintf("%s: %q", port, eeprom[port]))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return len(present), &AssertionError{
			What:     "EEPROM of present transceivers",
			Expected: eepromDetected,
			Observed: strings.Join(missing, ", "),
		}
	}
	return len(present), nil
}
