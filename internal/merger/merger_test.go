package merger

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// memLoader отдает заранее подготовленные таблицы по ID источника.
type memLoader map[string]*table.Table

func (m memLoader) Load(_ context.Context, src Source) (*table.Table, error) {
	t, ok := m[src.ID]
	if !ok {
		return nil, table.ErrFileNotFound
	}
	return t, nil
}

func people() *table.Table {
	return &table.Table{
		Columns: []string{"id", "name", "amount"},
		Rows: []*table.Row{
			table.RowOf("id", "1", "name", "Alice", "amount", "10"),
			table.RowOf("id", "2", "name", "Bob", "amount", "20"),
		},
	}
}

func orders() *table.Table {
	return &table.Table{
		Columns: []string{"order", "total", "note"},
		Rows: []*table.Row{
			table.RowOf("order", "A1", "total", 5.5, "note", "  urgent "),
			table.RowOf("order", "A2", "total", nil, "note", nil),
			table.RowOf("order", "A3", "total", 7.0),
		},
	}
}

var testSources = []Source{
	{ID: "people_1.csv", DisplayName: "people.csv"},
	{ID: "orders_1.xlsx", DisplayName: "orders.xlsx"},
}

func loader() memLoader {
	return memLoader{"people_1.csv": people(), "orders_1.xlsx": orders()}
}

func TestCombineScenario(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Index: 1, Name: "name"}, {Index: 2, Name: "amount"}}}
	res, err := Combine(context.Background(), testSources, sel, Options{}, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	for i, want := range [][2]string{{"Alice", "10"}, {"Bob", "20"}} {
		r := res.Rows[i]
		if !reflect.DeepEqual(r.Keys(), []string{"name", "amount"}) {
			t.Fatalf("row %d keys = %v", i, r.Keys())
		}
		name, _ := r.Get("name")
		amount, _ := r.Get("amount")
		if name != want[0] || amount != want[1] {
			t.Fatalf("row %d = %v/%v, want %v", i, name, amount, want)
		}
	}
	if res.SourcesUsed != 1 {
		t.Fatalf("SourcesUsed = %d, want 1", res.SourcesUsed)
	}
}

func TestCombineRowCountIsSumOfSelectedFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sel  Selection
		want int
	}{
		{"nothing selected", Selection{}, 0},
		{"empty lists", Selection{"people_1.csv": {}, "orders_1.xlsx": nil}, 0},
		{"one file", Selection{"orders_1.xlsx": {{Name: "order"}}}, 3},
		{"both files", Selection{"people_1.csv": {{Name: "id"}}, "orders_1.xlsx": {{Name: "order"}, {Name: "total"}}}, 5},
		{"unknown key ignored", Selection{"ghost.csv": {{Name: "x"}}}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Combine(context.Background(), testSources, tt.sel, Options{}, loader())
			if err != nil {
				t.Fatalf("Combine: %v", err)
			}
			if len(res.Rows) != tt.want {
				t.Fatalf("rows = %d, want %d", len(res.Rows), tt.want)
			}
		})
	}
}

func TestCombineFileOrderIsAuthoritative(t *testing.T) {
	t.Parallel()

	sel := Selection{
		"orders_1.xlsx": {{Name: "order"}},
		"people_1.csv":  {{Name: "name"}},
	}
	reversed := []Source{testSources[1], testSources[0]}
	res, err := Combine(context.Background(), reversed, sel, Options{IncludeOrigin: true}, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	var origins []table.Value
	for _, r := range res.Rows {
		v, _ := r.Get(OriginColumn)
		origins = append(origins, v)
	}
	want := []table.Value{"orders.xlsx", "orders.xlsx", "orders.xlsx", "people.csv", "people.csv"}
	if !reflect.DeepEqual(origins, want) {
		t.Fatalf("origins = %v, want %v", origins, want)
	}
}

func TestCombineOriginIsFirstKey(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Name: "name"}}, "orders_1.xlsx": {{Name: "total"}}}
	res, err := Combine(context.Background(), testSources, sel, Options{IncludeOrigin: true}, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	for i, r := range res.Rows {
		if r.Keys()[0] != OriginColumn {
			t.Fatalf("row %d first key = %q, want %q", i, r.Keys()[0], OriginColumn)
		}
	}
}

func TestCombineOptions(t *testing.T) {
	t.Parallel()

	sel := Selection{"orders_1.xlsx": {{Name: "total"}, {Name: "note"}}}
	opts := Options{
		TrimStrings:      true,
		EmptyReplacement: "N/A",
		Rename:           map[string]string{"orders_1.xlsx_total": "valor"},
	}
	res, err := Combine(context.Background(), testSources, sel, opts, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}

	tests := []struct {
		row  int
		key  string
		want table.Value
		ok   bool
	}{
		{0, "valor", 5.5, true},
		{0, "note", "urgent", true},
		{1, "valor", "N/A", true},
		{1, "note", "N/A", true},
		// Нет ячейки в строке -> нет ключа, замена не применяется.
		{2, "note", nil, false},
		{0, "total", nil, false},
	}
	for _, tt := range tests {
		got, ok := res.Rows[tt.row].Get(tt.key)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("row %d %q = %#v (present=%v), want %#v (present=%v)", tt.row, tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCombineRenameCollisionLastWriterWins(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Name: "id"}, {Name: "name"}}}
	opts := Options{Rename: map[string]string{
		"people_1.csv_id":   "x",
		"people_1.csv_name": "x",
	}}
	res, err := Combine(context.Background(), testSources, sel, opts, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if got := res.Rows[0].Keys(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("keys = %v, want [x]", got)
	}
	if v, _ := res.Rows[0].Get("x"); v != "Alice" {
		t.Fatalf("x = %v, want Alice", v)
	}
}

func TestCombineReportsMissingColumns(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Name: "name"}, {Name: "email"}, {Name: "email"}}}
	res, err := Combine(context.Background(), testSources, sel, Options{}, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []MissingColumn{{SourceID: "people_1.csv", Column: "email"}}
	if !reflect.DeepEqual(res.Missing, want) {
		t.Fatalf("Missing = %v, want %v", res.Missing, want)
	}
	if _, ok := res.Rows[0].Get("email"); ok {
		t.Fatalf("missing column must not produce a key")
	}
}

func TestCombineLoadError(t *testing.T) {
	t.Parallel()

	sel := Selection{"gone.csv": {{Name: "a"}}}
	_, err := Combine(context.Background(), []Source{{ID: "gone.csv", DisplayName: "gone.csv"}}, sel, Options{}, loader())
	if !errors.Is(err, table.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestCombineCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sel := Selection{"people_1.csv": {{Name: "name"}}}
	_, err := Combine(ctx, testSources, sel, Options{}, loader())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestResultColumnsUnion(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Name: "name"}}, "orders_1.xlsx": {{Name: "order"}, {Name: "note"}}}
	res, err := Combine(context.Background(), testSources, sel, Options{}, loader())
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []string{"name", "order", "note"}
	if got := res.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Columns() = %v, want %v", got, want)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	sel := Selection{"people_1.csv": {{Name: "name"}}, "orders_1.xlsx": {{Name: "order"}}}

	tests := []struct {
		name     string
		limit    int
		wantRows int
	}{
		{"limit truncates", 3, 3},
		{"limit above total", 50, 5},
		{"zero uses default", 0, 5},
		{"negative uses default", -1, 5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := Preview(context.Background(), testSources, sel, tt.limit, loader())
			if err != nil {
				t.Fatalf("Preview: %v", err)
			}
			if len(p.Rows) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(p.Rows), tt.wantRows)
			}
			full, _ := Combine(context.Background(), testSources, sel, Options{}, loader())
			if p.TotalRowCount != len(full.Rows) {
				t.Fatalf("TotalRowCount = %d, want %d", p.TotalRowCount, len(full.Rows))
			}
			if p.SourcesProcessed != len(testSources) {
				t.Fatalf("SourcesProcessed = %d, want %d", p.SourcesProcessed, len(testSources))
			}
			if p.Columns[0] != OriginColumn {
				t.Fatalf("Columns = %v, want %q first", p.Columns, OriginColumn)
			}
		})
	}
}
