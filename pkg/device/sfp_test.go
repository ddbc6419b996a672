package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtval/pkg/util"
)

func TestParseKeyValueOutput(t *testing.T) {
	lines := []string{
		"Port        Presence",
		"-----------  ----------",
		"Ethernet0   Present",
		"Ethernet4   Not present",
		"Ethernet8   Present",
	}
	got := ParseKeyValueOutput(lines)
	want := map[string]string{
		"Ethernet0":   "Present",
		"Ethernet8":   "Present",
		"Port":        "Presence",
		"-----------": "----------",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseKeyValueOutput() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEEPROM(t *testing.T) {
	lines := []string{
		"Ethernet0: SFP EEPROM detected",
		"        Connector: No separable connector",
		"Ethernet4: SFP EEPROM not detected",
		"PortChannel1: ignored",
	}
	want := map[string]string{
		"Ethernet0": "SFP EEPROM detected",
		"Ethernet4": "SFP EEPROM not detected",
	}
	if diff := cmp.Diff(want, ParseEEPROM(lines)); diff != "" {
		t.Errorf("ParseEEPROM() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateTransceiverLPMode(t *testing.T) {
	tests := []struct {
		name   string
		output string
		ok     bool
	}{
		{"valid", "Port        Low-power Mode\n-----------  ----------------\nEthernet0    Off\nEthernet4    On\n", true},
		{"header only", "Port        Low-power Mode\n-----------  ----------------\n", true},
		{"missing header", "Ethernet0    Off\n", false},
		{"bad mode", "Port        Low-power Mode\n-----------  ----------------\nEthernet0    Maybe\n", false},
		{"bad line", "Port        Low-power Mode\n-----------  ----------------\nEthernet0\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransceiverLPMode(tt.output)
			if tt.ok && err != nil {
				t.Errorf("ValidateTransceiverLPMode() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("ValidateTransceiverLPMode() error = %v, want validation failure", err)
			}
		})
	}
}

func TestTransceiverInventory(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{
		"sudo sfputil show presence": "Port        Presence\n-----------  ----------\nEthernet0   Present\nEthernet4   Not present\n",
		"sudo sfputil show eeprom":   "Ethernet0: SFP EEPROM detected\n        Connector: LC\n\nEthernet4: SFP EEPROM not detected\n",
	}}
	h, _, _, _ := newTestHost(exec)

	presence, err := h.TransceiverPresence()
	if err != nil {
		t.Fatalf("TransceiverPresence() error = %v", err)
	}
	if presence["Ethernet0"] != "Present" || presence["Ethernet4"] != "" {
		t.Errorf("TransceiverPresence() = %v", presence)
	}

	eeprom, err := h.TransceiverEEPROM()
	if err != nil {
		t.Fatalf("TransceiverEEPROM() error = %v", err)
	}
	want := map[string]string{
		"Ethernet0": "SFP EEPROM detected",
		"Ethernet4": "SFP EEPROM not detected",
	}
	if diff := cmp.Diff(want, eeprom); diff != "" {
		t.Errorf("TransceiverEEPROM() mismatch (-want +got):\n%s", diff)
	}
}
