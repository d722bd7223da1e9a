package discovery

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const rule = "================================================================================"

// Map returns the schema as {relative path: columns}.
func (s *Schema) Map() map[string][]string {
	m := make(map[string][]string, len(s.Files))
	for _, f := range s.Files {
		m[f.RelPath] = f.Columns
	}
	return m
}

// JSON renders the schema map with two-space indentation.
func (s *Schema) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(s.Map(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema map: %w", err)
	}
	return data, nil
}

// StudyOf returns the first path component starting with "Study_", or
// "Unknown".
func StudyOf(relPath string) string {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, "Study_") {
			return part
		}
	}
	return "Unknown"
}

// Summary renders the human-readable discovery report.
func (s *Schema) Summary(generated time.Time) string {
	columns := s.Map()

	byStudy := make(map[string][]string)
	for path := range columns {
		study := StudyOf(path)
		byStudy[study] = append(byStudy[study], path)
	}
	studies := make([]string, 0, len(byStudy))
	for study := range byStudy {
		studies = append(studies, study)
	}
	sort.Strings(studies)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("CLINICAL TRIAL DATA SCHEMA DISCOVERY REPORT\n")
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "Total files discovered: %d\n", len(columns))
	fmt.Fprintf(&b, "Generated: %s\n\n", generated.Format("2006-01-02 15:04:05.000000"))

	for _, study := range studies {
		paths := byStudy[study]
		sort.Strings(paths)

		fmt.Fprintf(&b, "\n%s\n", rule)
		fmt.Fprintf(&b, "STUDY: %s\n", study)
		fmt.Fprintf(&b, "%s\n", rule)
		for _, path := range paths {
			cols := columns[path]
			fmt.Fprintf(&b, "\nFile: %s\n", path)
			fmt.Fprintf(&b, "  Columns (%d):\n", len(cols))
			for _, c := range cols {
				fmt.Fprintf(&b, "    - %s\n", c)
			}
		}
	}
	return b.String()
}
