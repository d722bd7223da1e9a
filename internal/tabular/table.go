// Package tabular reads and writes the pipeline's CSV and Parquet artifacts.
package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spf13/cast"
)

// table is a fully loaded CSV file addressed by column name.
type table struct {
	headers []string
	colIdx  map[string]int
	rows    [][]string
}

func readTable(path string) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return parseTable(file, path)
}

func parseTable(r io.Reader, name string) (*table, error) {
	buf := bufio.NewReaderSize(r, 64*1024)

	// Skip UTF-8 BOM if present
	if bom, err := buf.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		buf.Discard(3)
	}

	reader := csv.NewReader(buf)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}

	t := &table{headers: headers, colIdx: make(map[string]int, len(headers))}
	for i, h := range headers {
		t.colIdx[strings.TrimSpace(h)] = i
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", name, len(t.rows)+2, err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.colIdx[col]
	return ok
}

func (t *table) hasAll(cols ...string) bool {
	for _, c := range cols {
		if !t.has(c) {
			return false
		}
	}
	return true
}

func (t *table) str(row []string, col string) string {
	i, ok := t.colIdx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// float parses a numeric cell. Empty, "nan" and malformed cells are NaN.
func (t *table) float(row []string, col string) float64 {
	s := t.str(row, col)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN()
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (t *table) integer(row []string, col string) int {
	v := t.float(row, col)
	if math.IsNaN(v) {
		return 0
	}
	return int(v)
}

func (t *table) flag(row []string, col string) bool {
	s := t.str(row, col)
	if b, err := cast.ToBoolE(s); err == nil {
		return b
	}
	return t.float(row, col) == 1
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return cast.ToString(v)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (b *Batch) writeCSV(path string, header []string, rows [][]string) error {
	return b.stage(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		return nil
	})
}

// WriteText atomically writes a text artifact.
func WriteText(path, text string) error {
	return single(func(b *Batch) error {
		return b.stage(path, func(w io.Writer) error {
			_, err := io.WriteString(w, text)
			return err
		})
	})
}

// Exists reports whether every path exists.
func Exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
