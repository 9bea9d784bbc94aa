package builtin

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/modkit"
)

func newTestRegistry(t *testing.T) *modkit.Registry {
	t.Helper()
	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	reg := modkit.NewRegistry()
	Register(reg, types)
	return reg
}

func TestLogicAnd(t *testing.T) {
	reg := newTestRegistry(t)
	m, err := reg.New("logic.and", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := m.Process(context.Background(), modkit.ValueMap{"a": true, "b": false})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out["y"] != false {
		t.Fatalf("expected false, got %v", out["y"])
	}
}

func TestLogicAndRejectsNonBoolean(t *testing.T) {
	reg := newTestRegistry(t)
	m, _ := reg.New("logic.and", nil)
	_, err := m.Process(context.Background(), modkit.ValueMap{"a": "nope", "b": true})
	if _, ok := err.(*modkit.Failure); !ok {
		t.Fatalf("expected *modkit.Failure, got %T: %v", err, err)
	}
}

func TestTableFromCSVAndQuery(t *testing.T) {
	reg := newTestRegistry(t)

	fromCSV, _ := reg.New("table.from_csv", nil)
	out, err := fromCSV.Process(context.Background(), modkit.ValueMap{
		"csv": []byte("name,city\nalice,reno\nbob,austin\n"),
	})
	if err != nil {
		t.Fatalf("from_csv: %v", err)
	}
	table := out["table"].(datatype.TablePayload)
	if len(table.Rows) != 2 || len(table.Columns) != 2 {
		t.Fatalf("unexpected table shape: %+v", table)
	}

	query, _ := reg.New("table.query", nil)
	qout, err := query.Process(context.Background(), modkit.ValueMap{
		"table": table,
		"query": "reno",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	result := qout["result"].(datatype.QueryResultPayload)
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 matching row, got %d", len(result.Rows))
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)

	ser, _ := reg.New("serialize.bytes", nil)
	out, err := ser.Process(context.Background(), modkit.ValueMap{"value": []byte("hello")})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	deser, _ := reg.New("deserialize.bytes", nil)
	back, err := deser.Process(context.Background(), modkit.ValueMap{"serialized": out["serialized"]})
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if string(back["value"].([]byte)) != "hello" {
		t.Fatalf("round trip mismatch: %v", back["value"])
	}
}

func TestMetadataExtractDelegatesToType(t *testing.T) {
	reg := newTestRegistry(t)
	m, _ := reg.New("metadata.extract", nil)
	out, err := m.Process(context.Background(), modkit.ValueMap{
		"value":     []byte("hello"),
		"type_name": "bytes",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	meta := out["metadata"].(map[string]any)
	if meta["byte_size"] != 5 {
		t.Fatalf("expected byte_size=5, got %v", meta["byte_size"])
	}
}

func TestMetadataExtractUnknownType(t *testing.T) {
	reg := newTestRegistry(t)
	m, _ := reg.New("metadata.extract", nil)
	_, err := m.Process(context.Background(), modkit.ValueMap{
		"value":     []byte("hello"),
		"type_name": "nope",
	})
	if _, ok := err.(*modkit.Failure); !ok {
		t.Fatalf("expected *modkit.Failure, got %T: %v", err, err)
	}
}

func TestPrettyPrintRendersCanonicalEncoding(t *testing.T) {
	reg := newTestRegistry(t)
	m, _ := reg.New("pretty.print", nil)

	types := datatype.NewRegistry()
	datatype.RegisterBuiltins(types)
	strType, _ := types.Lookup("string")
	encoded, err := strType.Encode("hi")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := m.Process(context.Background(), modkit.ValueMap{"encoded": encoded})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out["text"].(string) == "" {
		t.Fatalf("expected non-empty pretty-printed text")
	}
}
