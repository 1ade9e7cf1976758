// Package merger объединяет выбранные колонки нескольких исходных таблиц
// в одну: строки идут в порядке файлов, затем в порядке строк файла.
package merger

import (
	"context"

	"github.com/ryabkov82/planilha-merger/internal/reader"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

// OriginColumn - служебная колонка с именем файла-источника строки.
const OriginColumn = "__origin__"

// Source - загруженный файл, участвующий в объединении.
// ID совпадает с ключом в Selection (имя файла в хранилище).
type Source struct {
	ID          string `json:"fileName"`
	DisplayName string `json:"originalName"`
	Path        string `json:"-"`
}

// ColumnRef - выбранная колонка. Index только для отображения,
// значения всегда ищутся по Name.
type ColumnRef struct {
	Index int    `json:"indice"`
	Name  string `json:"nome"`
}

// Selection - выбранные колонки по идентификатору источника.
// Отсутствующий ключ равносилен пустому списку.
type Selection map[string][]ColumnRef

// Columns возвращает выбор для источника.
func (s Selection) Columns(sourceID string) []ColumnRef {
	return s[sourceID]
}

// Empty сообщает, что ни для одного источника не выбрано ни одной колонки.
func (s Selection) Empty() bool {
	for _, cols := range s {
		if len(cols) > 0 {
			return false
		}
	}
	return true
}

type Options struct {
	IncludeOrigin    bool
	TrimStrings      bool
	EmptyReplacement string
	// Rename: ключ "<sourceID>_<имя колонки>" -> итоговое имя.
	Rename map[string]string
}

// FinalName возвращает итоговое имя колонки с учетом переименования.
func (o Options) FinalName(sourceID, column string) string {
	if n, ok := o.Rename[sourceID+"_"+column]; ok && n != "" {
		return n
	}
	return column
}

// Loader загружает полную таблицу источника.
type Loader interface {
	Load(ctx context.Context, src Source) (*table.Table, error)
}

type LoaderFunc func(ctx context.Context, src Source) (*table.Table, error)

func (f LoaderFunc) Load(ctx context.Context, src Source) (*table.Table, error) {
	return f(ctx, src)
}

// FileLoader читает источник с диска, формат определяется по DisplayName.
var FileLoader Loader = LoaderFunc(func(_ context.Context, src Source) (*table.Table, error) {
	return reader.Read(src.Path, src.DisplayName)
})

// MissingColumn - выбранная колонка, которой нет в заголовке источника.
type MissingColumn struct {
	SourceID string `json:"planilha"`
	Column   string `json:"coluna"`
}

type Result struct {
	Rows        []*table.Row
	SourcesUsed int
	Missing     []MissingColumn
}

// Columns возвращает объединение имен колонок в порядке первого появления.
func (r *Result) Columns() []string {
	if r == nil {
		return nil
	}
	return table.UnionColumns(r.Rows)
}
