package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MaxUploadBytes bounds how much of a tabular upload is read into memory.
const MaxUploadBytes = 32 << 20

var ErrEmptyTable = errors.New("table has no header row")

// Table is a parsed CSV file: a normalised header and rows padded to its width.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// ReadTable parses CSV from r. UTF-8 and UTF-16 byte order marks are honoured;
// input that is not valid UTF-8 is read as Windows-1252, the usual
// spreadsheet export encoding.
func ReadTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("table exceeds %d bytes", MaxUploadBytes)
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}

	return NewTable(records[0], records[1:]), nil
}

// NewTable builds a table, normalising the header and dropping blank rows.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{
		Header: NormalizeHeader(header),
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		cleaned, ok := CleanRow(row, len(t.Header))
		if !ok {
			continue
		}
		t.Rows = append(t.Rows, cleaned)
	}
	t.reindex()
	return t
}

func decodeText(data []byte) ([]byte, error) {
	hasBOM := bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})

	var decoder transform.Transformer
	switch {
	case hasBOM:
		decoder = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	case utf8.Valid(data):
		return data, nil
	default:
		decoder = charmap.Windows1252.NewDecoder()
	}

	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, fmt.Errorf("decode table text: %w", err)
	}
	return out, nil
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
}

func (t *Table) Len() int { return len(t.Rows) }

func (t *Table) Column(name string) (int, bool) {
	idx, ok := t.index[name]
	return idx, ok
}

// Value returns the cell at row for the named column, or "" when the column
// does not exist.
func (t *Table) Value(row int, name string) string {
	idx, ok := t.index[name]
	if !ok || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][idx]
}

// Head returns a table sharing the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n >= len(t.Rows) {
		n = len(t.Rows)
	}
	head := &Table{Header: t.Header, Rows: t.Rows[:n]}
	head.reindex()
	return head
}

// Require reports every named column absent from the header.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := t.index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Columns: missing}
	}
	return nil
}

// WriteCSV writes the header and rows, plus any extra columns produced by
// extra for each row index.
func (t *Table) WriteCSV(w io.Writer, extraHeader []string, extra func(row int) []string) error {
	writer := csv.NewWriter(w)
	header := append(append([]string(nil), t.Header...), extraHeader...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		out := append([]string(nil), row...)
		if extra != nil {
			out = append(out, extra(i)...)
		}
		if err := writer.Write(out); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
