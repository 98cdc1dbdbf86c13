package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal"
)

// DataReader reads reference vital-sign tables from Excel or CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	logger   *internal.Logger
}

// NewDataReader creates a reader; the file type follows the extension
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, sheet: DefaultSheet, logger: internal.DefaultLogger}
}

// WithSheet selects a worksheet other than Sheet1
func (r *DataReader) WithSheet(sheet string) *DataReader {
	r.sheet = sheet
	return r
}

// WithLogger replaces the default logger
func (r *DataReader) WithLogger(logger *internal.Logger) *DataReader {
	r.logger = logger
	return r
}

// ReadData reads the raw header and rows
func (r *DataReader) ReadData() (*ExcelData, error) {
	r.logger.Debug("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// LoadReference implements ports.ReferenceSource. Empty or non-numeric vital
// cells become NaN so the profile learner drops and counts those rows.
func (r *DataReader) LoadReference(ctx context.Context) (vitals.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	return ToTable(data)
}

// ToTable maps raw rows to vital records by header name, alias or LOINC code
func ToTable(data *ExcelData) (vitals.Table, error) {
	subjectCol, err := findHeader(data.Headers, subjectAliases)
	if err != nil {
		return nil, err
	}
	visitCol, err := findHeader(data.Headers, visitAliases)
	if err != nil {
		return nil, err
	}
	armCol, err := findHeader(data.Headers, armAliases)
	if err != nil {
		return nil, err
	}

	var numeric [vitals.NumColumns]string
	for _, h := range data.Headers {
		if c, err := vitals.ParseColumn(h); err == nil && numeric[c] == "" {
			numeric[c] = h
		}
	}
	for _, c := range vitals.NumericColumns {
		if numeric[c] == "" {
			return nil, core.NewInvalidRequestError("reference", "missing column "+c.String())
		}
	}

	table := make(vitals.Table, 0, len(data.Rows))
	for i, row := range data.Rows {
		arm, err := vitals.ParseArm(row[armCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		record := vitals.VitalRecord{
			SubjectID:    core.SubjectID(row[subjectCol]),
			VisitName:    row[visitCol],
			TreatmentArm: arm,
		}
		for _, c := range vitals.NumericColumns {
			record.Set(c, parseCell(row[numeric[c]]))
		}
		table = append(table, record)
	}
	return table, nil
}

func findHeader(headers []string, aliases []string) (string, error) {
	for _, alias := range aliases {
		for _, h := range headers {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return h, nil
			}
		}
	}
	return "", core.NewInvalidRequestError("reference", "missing column "+aliases[0])
}

func parseCell(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// readExcelData reads the configured sheet into structured format
func (r *DataReader) readExcelData() (*ExcelData, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.sheet, err)
	}
	r.logger.Debug("[DataReader] %s read in %.2fms (%d rows)", r.sheet, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("Excel file must have at least a header row and one data row")
	}

	return r.processRows(rows)
}

// readCSVData reads CSV data into structured format
func (r *DataReader) readCSVData() (*ExcelData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.logger.Debug("[DataReader] CSV file read in %.2fms (%d rows)", float64(time.Since(readStart).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file must have at least a header row and one data row")
	}

	return r.processRows(rows)
}

// processRows converts raw string rows into ExcelData format
func (r *DataReader) processRows(rows [][]string) (*ExcelData, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		rowData := make(RawRowData, len(headers))
		for j, cell := range rows[i] {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	r.logger.Info("[DataReader] %s file processed (%d columns, %d rows)",
		strings.ToUpper(r.fileType), len(headers), len(dataRows))

	return &ExcelData{
		Headers: headers,
		Rows:    dataRows,
	}, nil
}
