package analyzer

import (
	"math"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// ColumnStats - заполненность колонки по всей таблице.
type ColumnStats struct {
	Total       int     `json:"total"`
	Filled      int     `json:"preenchidos"`
	Empty       int     `json:"vazios"`
	FillPercent float64 `json:"percentualPreenchimento"`
}

// Summary - полная сводка по загруженному файлу.
type Summary struct {
	TotalRows    int                    `json:"totalLinhas"`
	TotalColumns int                    `json:"totalColunas"`
	Columns      []string               `json:"colunas"`
	Sample       []*table.Row           `json:"amostraDados"`
	Types        map[string]ColumnType  `json:"tipos"`
	Stats        map[string]ColumnStats `json:"estatisticas"`
}

// Summarize считает типы и заполненность по всем строкам таблицы.
func Summarize(t *table.Table) Summary {
	s := Summary{
		TotalRows: t.Len(),
		Types:     make(map[string]ColumnType),
		Stats:     make(map[string]ColumnStats),
		Sample:    []*table.Row{},
		Columns:   []string{},
	}
	if t == nil {
		return s
	}
	s.TotalColumns = len(t.Columns)
	s.Columns = append(s.Columns, t.Columns...)
	s.Sample = append(s.Sample, t.Head(SummarySampleRows)...)

	for _, name := range t.Columns {
		values := nonEmptyValues(t.Rows, name)
		s.Types[name] = inferType(values)

		st := ColumnStats{
			Total:  len(t.Rows),
			Filled: len(values),
			Empty:  len(t.Rows) - len(values),
		}
		if st.Total > 0 {
			st.FillPercent = math.Round(float64(st.Filled)/float64(st.Total)*1000) / 10
		}
		s.Stats[name] = st
	}
	return s
}
