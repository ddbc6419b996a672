package util

import (
	"errors"
	"strings"
	"testing"
)

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		var v ValidationBuilder
		v.Add(true, "never")
		if v.HasErrors() {
			t.Fatal("HasErrors() = true, want false")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() = %v, want nil", err)
		}
	})

	t.Run("accumulates", func(t *testing.T) {
		var v ValidationBuilder
		v.Add(false, "dut name is required").AddErrorf("dut %s: mgmt_ip is required", "dut1")
		err := v.Build()
		if err == nil {
			t.Fatal("Build() = nil, want error")
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Error("Build() error should unwrap to ErrValidationFailed")
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || len(ve.Errors) != 2 {
			t.Fatalf("Build() = %v, want 2 errors", err)
		}
		if !strings.Contains(err.Error(), "\n  - ") {
			t.Errorf("multi-error message should be a list: %q", err.Error())
		}
	})
}
