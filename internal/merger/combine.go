package merger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// ctxCheckEvery - как часто внутри файла проверяется отмена контекста.
const ctxCheckEvery = 1024

// Combine проецирует выбранные колонки каждого источника и склеивает строки.
// Порядок строк задает порядок sources, а не порядок ключей sel.
// Источники без выбранных колонок пропускаются целиком.
// Отсутствующая в строке колонка не дает ключа в результате; если колонки
// нет в заголовке источника, она попадает в Result.Missing.
func Combine(ctx context.Context, sources []Source, sel Selection, opts Options, loader Loader) (*Result, error) {
	if loader == nil {
		loader = FileLoader
	}
	res := &Result{Rows: []*table.Row{}}

	for _, src := range sources {
		cols := sel.Columns(src.ID)
		if len(cols) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("объединение прервано: %w", err)
		}

		t, err := loader.Load(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки %s: %w", src.DisplayName, err)
		}
		res.SourcesUsed++
		res.Missing = append(res.Missing, missingColumns(src.ID, t.Columns, cols)...)

		finalNames := make([]string, len(cols))
		for i, c := range cols {
			finalNames[i] = opts.FinalName(src.ID, c.Name)
		}

		for n, in := range t.Rows {
			if n > 0 && n%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("объединение прервано: %w", err)
				}
			}

			capacity := len(cols)
			if opts.IncludeOrigin {
				capacity++
			}
			out := table.NewRow(capacity)
			if opts.IncludeOrigin {
				out.Set(OriginColumn, src.DisplayName)
			}
			for i, c := range cols {
				v, ok := in.Get(c.Name)
				if !ok {
					continue
				}
				out.Set(finalNames[i], processValue(v, opts))
			}
			res.Rows = append(res.Rows, out)
		}
	}

	return res, nil
}

// processValue применяет замену пустых (nil) значений и обрезку пробелов.
func processValue(v table.Value, opts Options) table.Value {
	if v == nil {
		return opts.EmptyReplacement
	}
	if s, ok := v.(string); ok && opts.TrimStrings {
		return strings.TrimSpace(s)
	}
	return v
}

func missingColumns(sourceID string, header []string, cols []ColumnRef) []MissingColumn {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	var out []MissingColumn
	seen := make(map[string]struct{})
	for _, c := range cols {
		if _, ok := present[c.Name]; ok {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, MissingColumn{SourceID: sourceID, Column: c.Name})
	}
	return out
}
