package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/modkit"
)

// tableFromCSV parses a CSV file payload into a table value. Grounded in
// spec.md §8 scenario S2: "table.from_csv(path=...) produces a table
// value with recorded row-count metadata". This engine has no filesystem
// import module in scope (§1 Non-goals delegate filesystem import to an
// external collaborator), so the module accepts CSV bytes directly as
// its "csv" input rather than a path, keeping file I/O outside the
// engine core while preserving the same module_type name and behavior.
type tableFromCSV struct{}

func NewTableFromCSV(map[string]any) (modkit.Module, error) { return tableFromCSV{}, nil }

func (tableFromCSV) InputsSchema() datatype.Map {
	return datatype.Map{"csv": {TypeName: "bytes"}}
}

func (tableFromCSV) OutputsSchema() datatype.Map {
	return datatype.Map{"table": {TypeName: "table"}}
}

func (tableFromCSV) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	raw, ok := inputs["csv"].([]byte)
	if !ok {
		return nil, &modkit.Failure{Field: "csv", Reason: "expected bytes"}
	}

	r := csv.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	records, err := r.ReadAll()
	if err != nil {
		return nil, &modkit.Failure{Field: "csv", Reason: fmt.Sprintf("parse csv: %v", err)}
	}
	if len(records) == 0 {
		return modkit.ValueMap{"table": datatype.TablePayload{}}, nil
	}

	columns := records[0]
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, len(columns))
		for i := range columns {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	return modkit.ValueMap{"table": datatype.TablePayload{Columns: columns, Rows: rows}}, nil
}

// tableQuery runs a trivial substring filter over a table's string cells
// and returns the matching rows as a query_result. A real query engine
// (e.g. the GraphQL-flavored query named in spec.md §8 S2) is out of
// scope; this module exists to make the S2 scenario's second step
// exercisable end-to-end through the job cache and lineage machinery.
type tableQuery struct{}

func NewTableQuery(map[string]any) (modkit.Module, error) { return tableQuery{}, nil }

func (tableQuery) InputsSchema() datatype.Map {
	return datatype.Map{
		"table": {TypeName: "table"},
		"query": {TypeName: "string"},
	}
}

func (tableQuery) OutputsSchema() datatype.Map {
	return datatype.Map{"result": {TypeName: "query_result"}}
}

func (tableQuery) Process(_ context.Context, inputs modkit.ValueMap) (modkit.ValueMap, error) {
	table, ok := inputs["table"].(datatype.TablePayload)
	if !ok {
		return nil, &modkit.Failure{Field: "table", Reason: "expected table payload"}
	}
	query, ok := inputs["query"].(string)
	if !ok {
		return nil, &modkit.Failure{Field: "query", Reason: "expected string"}
	}

	needle := strings.ToLower(query)
	var matched [][]any
	for _, row := range table.Rows {
		for _, cell := range row {
			if s, ok := cell.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				matched = append(matched, row)
				break
			}
		}
	}

	return modkit.ValueMap{"result": datatype.QueryResultPayload{
		Query:   query,
		Columns: table.Columns,
		Rows:    matched,
	}}, nil
}
