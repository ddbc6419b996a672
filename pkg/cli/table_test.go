package cli

import (
	"bytes"
	"testing"
)

func TestTable(t *testing.T) {
	var b bytes.Buffer
	tbl := NewTableTo(&b, "CASE", "STATUS")
	tbl.Row("transceiver-lpmode", "PASS")
	tbl.Row("tunnel-memory-leak")
	tbl.Flush()

	want := "CASE                STATUS\n" +
		"----                ------\n" +
		"transceiver-lpmode  PASS\n" +
		"tunnel-memory-leak  -\n"
	if got := b.String(); got != want {
		t.Errorf("table output =\n%q\nwant\n%q", got, want)
	}
}

func TestTable_Empty(t *testing.T) {
	var b bytes.Buffer
	NewTableTo(&b, "CASE", "STATUS").Flush()
	if b.Len() != 0 {
		t.Errorf("empty table printed %q", b.String())
	}
}

func TestTable_Prefix(t *testing.T) {
	var b bytes.Buffer
	tbl := NewTableTo(&b, "PORT").WithPrefix("  ")
	tbl.Row("Ethernet0")
	tbl.Flush()

	want := "  PORT\n  ----\n  Ethernet0\n"
	if got := b.String(); got != want {
		t.Errorf("table output = %q, want %q", got, want)
	}
}
