package excel

// RawRowData represents a row of raw spreadsheet data as header to cell text
type RawRowData map[string]string

// ExcelData represents a complete sheet or CSV file
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}
