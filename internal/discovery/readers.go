package discovery

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// readCSVHeader reads the first record of a CSV file. Headers that are not
// valid UTF-8 are decoded as Windows-1252.
func readCSVHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	line = bytes.TrimPrefix(line, []byte{0xEF, 0xBB, 0xBF})
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, nil
	}

	if !utf8.Valid(line) {
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), line)
		if err != nil {
			return nil, fmt.Errorf("%w: decode header: %v", errParse, err)
		}
		line = decoded
	}

	reader := csv.NewReader(bytes.NewReader(line))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	cols, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	return dedupe(cols), nil
}

// readExcelHeader returns the first row of the workbook's first sheet.
func readExcelHeader(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Error()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return dedupe(cols), nil
}
