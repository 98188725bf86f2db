// Package upload parses admin bulk uploads (CSV and XLSX) into typed rows
// for the knowledge base and the solved-ticket corpus. Parsing is strict on
// structure (required columns, supported extensions) and lenient on data
// (blank rows are skipped, extra columns ignored).
package upload

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// Required column headers, matched case-insensitively after trimming.
var (
	knowledgeColumns = []string{"module_name", "field_name"}
	solvedColumns    = []string{"ticket_key", "summary", "resolution"}

	// optional solved-ticket column
	descriptionColumn = "description"
)

// ErrUnsupportedFormat is returned for file extensions other than .csv/.xlsx.
var ErrUnsupportedFormat = fmt.Errorf("upload: unsupported file format, expected .csv or .xlsx")

// ParseKnowledge reads a knowledge-base upload into (module, field) rows.
func ParseKnowledge(filename string, r io.Reader) ([]model.KnowledgeRow, error) {
	table, err := readTable(filename, r)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(table.header, knowledgeColumns)
	if err != nil {
		return nil, err
	}

	var rows []model.KnowledgeRow
	for _, rec := range table.rows {
		module := cell(rec, idx["module_name"])
		field := cell(rec, idx["field_name"])
		if module == "" || field == "" {
			continue
		}
		rows = append(rows, model.KnowledgeRow{ModuleName: module, FieldName: field})
	}
	return rows, nil
}

// ParseSolvedTickets reads a solved-ticket upload into corpus entries.
func ParseSolvedTickets(filename string, r io.Reader) ([]model.SolvedTicket, error) {
	table, err := readTable(filename, r)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(table.header, solvedColumns)
	if err != nil {
		return nil, err
	}
	descIdx := -1
	if i, ok := findColumn(table.header, descriptionColumn); ok {
		descIdx = i
	}

	var tickets []model.SolvedTicket
	for _, rec := range table.rows {
		t := model.SolvedTicket{
			TicketKey:  cell(rec, idx["ticket_key"]),
			Summary:    cell(rec, idx["summary"]),
			Resolution: cell(rec, idx["resolution"]),
		}
		if t.TicketKey == "" || t.Resolution == "" {
			continue
		}
		if descIdx >= 0 {
			t.Description = cell(rec, descIdx)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

type table struct {
	header []string
	rows   [][]string
}

func readTable(filename string, r io.Reader) (table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readCSV(r)
	case ".xlsx":
		return readXLSX(r)
	default:
		return table{}, ErrUnsupportedFormat
	}
}

func readCSV(r io.Reader) (table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("upload: parse csv: %w", err)
	}
	if len(records) == 0 {
		return table{}, fmt.Errorf("upload: empty file")
	}
	return table{header: records[0], rows: records[1:]}, nil
}

func readXLSX(r io.Reader) (table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return table{}, fmt.Errorf("upload: read xlsx: %w", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return table{}, fmt.Errorf("upload: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return table{}, fmt.Errorf("upload: workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return table{}, fmt.Errorf("upload: read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return table{}, fmt.Errorf("upload: empty file")
	}
	return table{header: records[0], rows: records[1:]}, nil
}

// columnIndex maps each required column to its position in the header, or
// errors naming every missing column at once.
func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(required))
	var missing []string
	for _, name := range required {
		if i, ok := findColumn(header, name); ok {
			idx[name] = i
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("upload: missing required column(s): %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func findColumn(header []string, name string) (int, bool) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, true
		}
	}
	return -1, false
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
