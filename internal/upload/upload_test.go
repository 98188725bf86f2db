package upload

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseKnowledgeCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"module_name,field_name",
		"Order Management,Order Number",
		"Order Management,Error Message",
		",missing module",
		"General Ledger,Journal Batch",
	}, "\n")

	rows, err := ParseKnowledge("kb.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Order Management", rows[0].ModuleName)
	require.Equal(t, "Journal Batch", rows[2].FieldName)
}

func TestParseKnowledgeHeaderCaseInsensitive(t *testing.T) {
	csvData := "Module_Name, Field_Name\nPayables,Invoice Number\n"
	rows, err := ParseKnowledge("kb.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestParseKnowledgeMissingColumns(t *testing.T) {
	csvData := "module_name,something_else\nOM,foo\n"
	_, err := ParseKnowledge("kb.csv", strings.NewReader(csvData))
	require.Error(t, err)
	require.Contains(t, err.Error(), "field_name")
}

func TestParseKnowledgeRejectsUnknownExtension(t *testing.T) {
	_, err := ParseKnowledge("kb.txt", strings.NewReader("module_name,field_name\n"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseSolvedTicketsCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"ticket_key,summary,description,resolution",
		"LENS-100,Invoice stuck in validation,AP invoice holds,Release the hold and revalidate",
		"LENS-101,Login failure,,Reset the SSO session cache",
		",no key,,skipped",
	}, "\n")

	tickets, err := ParseSolvedTickets("solved.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	require.Equal(t, "LENS-100", tickets[0].TicketKey)
	require.Equal(t, "AP invoice holds", tickets[0].Description)
	require.Equal(t, "Reset the SSO session cache", tickets[1].Resolution)
}

func TestParseSolvedTicketsMissingColumns(t *testing.T) {
	csvData := "ticket_key,summary\nLENS-1,foo\n"
	_, err := ParseSolvedTickets("solved.csv", strings.NewReader(csvData))
	require.Error(t, err)
	require.Contains(t, err.Error(), "resolution")
}

func TestParseSolvedTicketsXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"ticket_key", "summary", "resolution"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"LENS-200", "Batch job failed", "Restart the concurrent manager"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	tickets, err := ParseSolvedTickets("solved.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, "LENS-200", tickets[0].TicketKey)
	require.Equal(t, "Restart the concurrent manager", tickets[0].Resolution)
}

func TestParseKnowledgeEmptyFile(t *testing.T) {
	_, err := ParseKnowledge("kb.csv", strings.NewReader(""))
	require.Error(t, err)
}
