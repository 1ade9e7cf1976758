package merger

import (
	"context"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// DefaultPreviewLimit используется, если лимит не задан или не положителен.
const DefaultPreviewLimit = 10

type PreviewResult struct {
	Rows             []*table.Row    `json:"dados"`
	Columns          []string        `json:"colunas"`
	TotalRowCount    int             `json:"totalEstimado"`
	SourcesProcessed int             `json:"planilhasProcessadas"`
	Missing          []MissingColumn `json:"colunasNaoEncontradas,omitempty"`
}

// Preview выполняет полное объединение (всегда с колонкой источника)
// и возвращает первые limit строк. TotalRowCount - число строк без обрезки.
func Preview(ctx context.Context, sources []Source, sel Selection, limit int, loader Loader) (*PreviewResult, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}

	res, err := Combine(ctx, sources, sel, Options{IncludeOrigin: true}, loader)
	if err != nil {
		return nil, err
	}

	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return &PreviewResult{
		Rows:             rows,
		Columns:          res.Columns(),
		TotalRowCount:    len(res.Rows),
		SourcesProcessed: len(sources),
		Missing:          res.Missing,
	}, nil
}
