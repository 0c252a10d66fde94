package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// RecordReader yields records until io.EOF. A *RowError reports a bad row
// that can be skipped; any other error ends the read.
type RecordReader interface {
	Next() (*DataRecord, error)
	Close() error
}

// RowError is a single unreadable row.
type RowError struct {
	Row int64
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// OpenReader opens filePath as format.
func OpenReader(filePath string, format FileFormat, cfg *Config) (RecordReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}

	var r RecordReader
	switch format {
	case FormatCSV:
		r, err = newCSVReader(file, cfg.TextColumn, cfg.SourceColumn)
	case FormatParquet:
		r = &parquetReader{file: file, reader: parquet.NewReader(file)}
	case FormatJSON:
		r = &jsonReader{file: file, decoder: json.NewDecoder(file)}
	case FormatText:
		r = &lineReader{file: file, scanner: bufio.NewScanner(file)}
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

type csvReader struct {
	file      *os.File
	reader    *csv.Reader
	textCol   int
	sourceCol int
	row       int64
}

func newCSVReader(file *os.File, textColumn, sourceColumn string) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	r := &csvReader{file: file, reader: reader, textCol: -1, sourceCol: -1, row: 1}
	for i, h := range header {
		switch strings.TrimSpace(strings.ToLower(h)) {
		case strings.ToLower(textColumn):
			r.textCol = i
		case strings.ToLower(sourceColumn):
			r.sourceCol = i
		}
	}
	if r.textCol < 0 {
		return nil, fmt.Errorf("CSV header %v has no %q column", header, textColumn)
	}
	return r, nil
}

func (r *csvReader) Next() (*DataRecord, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.row++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &RowError{Row: r.row, Err: err}
		}
		return nil, err
	}
	if r.textCol >= len(record) {
		return nil, &RowError{Row: r.row, Err: fmt.Errorf("missing text column")}
	}
	rec := &DataRecord{Text: record[r.textCol], Row: r.row}
	if r.sourceCol >= 0 && r.sourceCol < len(record) {
		rec.Source = strings.TrimSpace(record[r.sourceCol])
	}
	return rec, nil
}

func (r *csvReader) Close() error { return r.file.Close() }

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
	row    int64
}

func (r *parquetReader) Next() (*DataRecord, error) {
	var rec DataRecord
	if err := r.reader.Read(&rec); err != nil {
		return nil, err
	}
	r.row++
	rec.Row = r.row
	return &rec, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

// jsonReader reads a stream of JSON objects, typically one per line.
type jsonReader struct {
	file    *os.File
	decoder *json.Decoder
	row     int64
}

func (r *jsonReader) Next() (*DataRecord, error) {
	var rec DataRecord
	err := r.decoder.Decode(&rec)
	if err == io.EOF {
		return nil, io.EOF
	}
	r.row++
	if err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &RowError{Row: r.row, Err: err}
		}
		return nil, fmt.Errorf("row %d: %w", r.row, err)
	}
	rec.Row = r.row
	return &rec, nil
}

func (r *jsonReader) Close() error { return r.file.Close() }

type lineReader struct {
	file    *os.File
	scanner *bufio.Scanner
	row     int64
}

func (r *lineReader) Next() (*DataRecord, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	r.row++
	return &DataRecord{Text: r.scanner.Text(), Row: r.row}, nil
}

func (r *lineReader) Close() error { return r.file.Close() }
