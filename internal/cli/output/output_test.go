package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("ID", "Status")
	table.AddRow("p1", "opened")
	table.AddRow("p2", "closed")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "closed")
}

func TestPrinterJSONFallback(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)

	// Non-TableRenderer data falls back to JSON
	require.NoError(t, p.Print(map[string]string{"version": "2.2.0"}))
	assert.Contains(t, buf.String(), `"version": "2.2.0"`)
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatYAML)

	require.NoError(t, p.Print(map[string]int{"port": 3080}))
	assert.Contains(t, buf.String(), "port: 3080")
}
