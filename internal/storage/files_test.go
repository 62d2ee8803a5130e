package storage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestJournalRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ircstate-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	journal := []string{
		"Thu Feb 20, 2025 at 11:00:00 GMT: nick!u@h -> !caps",
		"Thu Feb 20, 2025 at 12:00:00 GMT: nick!u@h -> !whois bob",
	}

	if err := SaveJournal(tmpDir, journal); err != nil {
		t.Fatalf("SaveJournal failed: %v", err)
	}

	loaded, err := LoadJournal(tmpDir)
	if err != nil {
		t.Fatalf("LoadJournal failed: %v", err)
	}

	if !reflect.DeepEqual(loaded, journal) {
		t.Errorf("Journal mismatch: expected %q, got %q", journal, loaded)
	}
}

func TestLoadJournalMissing(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ircstate-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	journal, err := LoadJournal(tmpDir)
	if err != nil {
		t.Fatalf("LoadJournal should not fail for missing file: %v", err)
	}
	if len(journal) != 0 {
		t.Errorf("Expected empty journal, got %d entries", len(journal))
	}
}

func TestAddJournalMaxEntries(t *testing.T) {
	journal := make([]string, 500)
	for i := range journal {
		journal[i] = "entry"
	}

	journal = AddJournal(journal, "new")

	if len(journal) != 500 {
		t.Errorf("Expected 500 entries (max), got %d", len(journal))
	}
	if journal[len(journal)-1] != "new" {
		t.Errorf("New entry should be last")
	}
}

func TestReportRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ircstate-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	report := &Report{
		Server:      "irc.example.org:6697",
		Time:        "2025-02-20T12:00:00Z",
		CaseMapping: "rfc1459",
		Available: map[string]string{
			"multi-prefix": "",
			"sasl":         "PLAIN,EXTERNAL",
			"draft/x":      "a=b",
		},
		Enabled: []string{"multi-prefix", "sasl"},
	}

	if err := SaveReport(tmpDir, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(tmpDir, "caps.txt"))
	expected := "irc.example.org:6697 2025-02-20T12:00:00Z\nrfc1459\n  draft/x=a=b\n* multi-prefix\n* sasl=PLAIN,EXTERNAL\n"
	if string(data) != expected {
		t.Errorf("Report file format wrong: got %q", string(data))
	}

	loaded, err := LoadReport(tmpDir)
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, report) {
		t.Errorf("Report mismatch: expected %+v, got %+v", report, loaded)
	}
}

func TestLoadReportMissing(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ircstate-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	if _, err := LoadReport(tmpDir); err == nil {
		t.Errorf("Expected error for missing report")
	}
}

func TestDiffReports(t *testing.T) {
	prev := &Report{Available: map[string]string{
		"multi-prefix": "",
		"sasl":         "PLAIN",
		"away-notify":  "",
	}}
	cur := &Report{Available: map[string]string{
		"multi-prefix": "",
		"sasl":         "PLAIN,EXTERNAL",
		"cap-notify":   "",
	}}

	added, removed := DiffReports(prev, cur)
	if !reflect.DeepEqual(added, []string{"cap-notify", "sasl"}) {
		t.Errorf("Unexpected added list: %q", added)
	}
	if !reflect.DeepEqual(removed, []string{"away-notify"}) {
		t.Errorf("Unexpected removed list: %q", removed)
	}

	added, removed = DiffReports(cur, cur)
	if len(added) != 0 || len(removed) != 0 {
		t.Errorf("Expected no difference, got +%q -%q", added, removed)
	}
}
