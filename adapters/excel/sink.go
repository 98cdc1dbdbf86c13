package excel

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"trialsynth/domain/vitals"
)

// StreamSink writes chunks to an .xlsx file row by row through excelize's
// stream writer, so memory stays bounded by one chunk. Chunks must arrive in
// index order starting at zero. A sheet that reaches the worksheet row limit
// is flushed and writing continues on the next sheet (Sheet2, Sheet3, ...)
// under a repeated header row.
type StreamSink struct {
	path    string
	file    *excelize.File
	writer  *excelize.StreamWriter
	sheet   int
	row     int
	written int
	next    int
	closed  bool
}

// NewStreamSink creates the workbook and writes the header row
func NewStreamSink(path string) (*StreamSink, error) {
	s := &StreamSink{path: path, file: excelize.NewFile()}
	if err := s.openSheet(1); err != nil {
		s.file.Close()
		return nil, err
	}
	return s, nil
}

// SheetName returns the name of the n-th (1-based) output sheet
func SheetName(n int) string {
	if n <= 1 {
		return DefaultSheet
	}
	return fmt.Sprintf("Sheet%d", n)
}

// openSheet starts a stream writer on sheet n and writes its header
func (s *StreamSink) openSheet(n int) error {
	name := SheetName(n)
	if n > 1 {
		if _, err := s.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	sw, err := s.file.NewStreamWriter(name)
	if err != nil {
		return fmt.Errorf("open stream writer on %s: %w", name, err)
	}

	header := []interface{}{HeaderSubjectID, HeaderVisitName, HeaderTreatmentArm}
	for _, c := range vitals.NumericColumns {
		header = append(header, c.String())
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header on %s: %w", name, err)
	}
	s.writer = sw
	s.sheet = n
	s.row = 2
	return nil
}

// WriteChunk appends one chunk
func (s *StreamSink) WriteChunk(ctx context.Context, index int, chunk vitals.Table) error {
	if s.closed {
		return fmt.Errorf("sink closed")
	}
	if index != s.next {
		return fmt.Errorf("chunk %d written out of order, expected %d", index, s.next)
	}
	for _, r := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.row > excelize.TotalRows {
			if err := s.writer.Flush(); err != nil {
				return fmt.Errorf("flush %s: %w", SheetName(s.sheet), err)
			}
			if err := s.openSheet(s.sheet + 1); err != nil {
				return err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, s.row)
		if err != nil {
			return err
		}
		values := []interface{}{string(r.SubjectID), r.VisitName, string(r.TreatmentArm),
			r.SystolicBP, r.DiastolicBP, r.HeartRate, r.Temperature}
		if err := s.writer.SetRow(cell, values); err != nil {
			return fmt.Errorf("write %s row %d: %w", SheetName(s.sheet), s.row, err)
		}
		s.row++
		s.written++
	}
	s.next++
	return nil
}

// Rows returns the number of data rows written so far across all sheets
func (s *StreamSink) Rows() int {
	return s.written
}

// Sheets returns the number of sheets opened so far
func (s *StreamSink) Sheets() int {
	return s.sheet
}

// Close flushes the stream and saves the workbook
func (s *StreamSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.file.Close()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}
