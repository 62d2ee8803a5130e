package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxEntries = 500

// LoadJournal reads the command journal from file
func LoadJournal(dataDir string) ([]string, error) {
	path := filepath.Join(dataDir, "journal.txt")
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	return lines, nil
}

// SaveJournal writes the command journal to file (max 500 entries)
func SaveJournal(dataDir string, journal []string) error {
	path := filepath.Join(dataDir, "journal.txt")
	// Trim to max entries (keep newest at end)
	if len(journal) > maxEntries {
		journal = journal[len(journal)-maxEntries:]
	}
	return writeLines(path, journal)
}

// AddJournal appends a new journal entry
func AddJournal(journal []string, entry string) []string {
	journal = append(journal, entry)
	if len(journal) > maxEntries {
		journal = journal[1:]
	}
	return journal
}

// Report is the outcome of capability negotiation with one server.
type Report struct {
	Server      string
	Time        string
	CaseMapping string
	// Available maps capability names to their advertised value, "" for
	// capabilities advertised without one.
	Available map[string]string
	Enabled   []string
}

// SaveReport writes a capability report to caps.txt. The first two lines
// are "server time" and the casemapping; each following line is a
// capability, prefixed with "* " when enabled.
func SaveReport(dataDir string, r *Report) error {
	path := filepath.Join(dataDir, "caps.txt")

	enabled := make(map[string]bool, len(r.Enabled))
	for _, name := range r.Enabled {
		enabled[name] = true
	}

	names := make([]string, 0, len(r.Available))
	for name := range r.Available {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{
		fmt.Sprintf("%s %s", r.Server, r.Time),
		r.CaseMapping,
	}
	for _, name := range names {
		line := name
		if v := r.Available[name]; v != "" {
			line += "=" + v
		}
		if enabled[name] {
			line = "* " + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return writeLines(path, lines)
}

// LoadReport reads the capability report written by SaveReport
func LoadReport(dataDir string) (*Report, error) {
	path := filepath.Join(dataDir, "caps.txt")
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("truncated capability report %s", path)
	}

	r := &Report{Available: make(map[string]string)}
	r.Server, r.Time, _ = strings.Cut(lines[0], " ")
	r.CaseMapping = lines[1]

	for _, line := range lines[2:] {
		isEnabled := strings.HasPrefix(line, "* ")
		line = strings.TrimSpace(strings.TrimPrefix(line, "* "))
		// capability names never contain '=', values may
		name, value, _ := strings.Cut(line, "=")
		if name == "" {
			continue
		}
		r.Available[name] = value
		if isEnabled {
			r.Enabled = append(r.Enabled, name)
		}
	}
	return r, nil
}

// DiffReports lists the capabilities advertised in cur but not in prev,
// and those advertised in prev but gone from cur. A capability whose value
// changed is listed as added. Both lists are sorted.
func DiffReports(prev, cur *Report) (added, removed []string) {
	for name, value := range cur.Available {
		if old, ok := prev.Available[name]; !ok || old != value {
			added = append(added, name)
		}
	}
	for name := range prev.Available {
		if _, ok := cur.Available[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeLines(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			return err
		}
	}
	return nil
}
