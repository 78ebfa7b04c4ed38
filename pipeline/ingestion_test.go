package pipeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const sampleCSV = `Age, Gender ,income_numeric,tenure,sub_plan,contract,monthly_charge,auto_renewal,late_payment,failed_transaction
30,M,2,5,standard,monthly,100,1,0,0
,,,,,,,,,
45,F,3,0,premium,annual,250.5,0,1,1
`

func TestReadTableNormalises(t *testing.T) {
	table, err := ReadTable(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Header[0] != "age" || table.Header[1] != "gender" {
		t.Fatalf("header not normalised: %v", table.Header)
	}
	if table.Len() != 2 {
		t.Fatalf("expected blank row to be dropped, got %d rows", table.Len())
	}
	if got := table.Value(1, "monthly_charge"); got != "250.5" {
		t.Fatalf("unexpected value: %q", got)
	}
	if got := table.Value(0, "missing"); got != "" {
		t.Fatalf("expected empty value for unknown column, got %q", got)
	}
}

func TestReadTableUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleCSV)...)
	table, err := ReadTable(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := table.Column("age"); !ok {
		t.Fatalf("BOM leaked into header: %q", table.Header[0])
	}
}

func TestReadTableUTF16(t *testing.T) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := encoder.Bytes([]byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	table, err := ReadTable(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 2 || table.Value(0, "sub_plan") != "standard" {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestReadTableWindows1252(t *testing.T) {
	data, err := charmap.Windows1252.NewEncoder().Bytes([]byte("name,age\nRené,41\n"))
	if err != nil {
		t.Fatal(err)
	}
	table, err := ReadTable(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.Value(0, "name"); got != "René" {
		t.Fatalf("expected decoded name, got %q", got)
	}
}

func TestReadTableRaggedRows(t *testing.T) {
	table, err := ReadTable(strings.NewReader("a,b,c\n1,2\n1,2,3,4\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range table.Rows {
		if len(row) != 3 {
			t.Fatalf("row not resized to header width: %v", row)
		}
	}
}

func TestReadTableEmpty(t *testing.T) {
	if _, err := ReadTable(strings.NewReader("")); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}

func TestRequireAndHead(t *testing.T) {
	table, err := ReadTable(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Require("age", "tenure"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = table.Require("age", "default", "segment")
	var missing *MissingColumnsError
	if !errors.As(err, &missing) || len(missing.Columns) != 2 {
		t.Fatalf("expected two missing columns, got %v", err)
	}
	if table.Head(1).Len() != 1 || table.Head(10).Len() != 2 {
		t.Fatal("unexpected head length")
	}
}

func TestRecordFromRow(t *testing.T) {
	table, err := ReadTable(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	record, err := RecordFromRow(table, 1).Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Age != 45 || record.Tenure != 0 || record.MonthlyCharge != 250.5 || record.Contract != "annual" {
		t.Fatalf("unexpected record: %+v", record)
	}

	partial := NewTable([]string{"age", "gender"}, [][]string{{"30", "M"}})
	if _, err := RecordFromRow(partial, 0).Validate(); err == nil {
		t.Fatal("expected validation error for missing columns")
	}
}

func TestWriteCSV(t *testing.T) {
	table := NewTable([]string{"id"}, [][]string{{"1"}, {"2"}})
	var buf bytes.Buffer
	err := table.WriteCSV(&buf, []string{"churn_prediction"}, func(row int) []string {
		if row == 0 {
			return []string{"1"}
		}
		return []string{""}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "id,churn_prediction\n1,1\n2,\n" {
		t.Fatalf("unexpected csv: %q", buf.String())
	}
}
