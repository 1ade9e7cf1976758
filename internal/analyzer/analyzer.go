// Package analyzer определяет структуру таблицы по выборке строк:
// тип каждой колонки (text, number, date) и несколько примеров значений.
//
// Вывод типов эвристический: колонка получает тип number, если более 80%
// непустых значений разбираются как число, иначе date, если более 80%
// разбираются как дата, иначе text. Пустые значения в голосовании не участвуют.
package analyzer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

const (
	// SampleRows - размер выборки для анализа структуры.
	SampleRows = 20
	// ExampleCount - сколько примеров значений сохраняется на колонку.
	ExampleCount = 3
	// SummarySampleRows - сколько строк отдается как образец в полной сводке.
	SummarySampleRows = 5

	typeThreshold = 0.8
)

type ColumnType string

const (
	TypeText   ColumnType = "text"
	TypeNumber ColumnType = "number"
	TypeDate   ColumnType = "date"
)

type ColumnDescriptor struct {
	Index        int           `json:"indice"`
	Name         string        `json:"nome"`
	OriginalName string        `json:"nomeOriginal"`
	Type         ColumnType    `json:"tipo"`
	Examples     []table.Value `json:"exemplos"`
}

// Analyze строит описание колонок по выборке. Результат детерминирован.
func Analyze(sample *table.Table) []ColumnDescriptor {
	if sample == nil {
		return nil
	}
	out := make([]ColumnDescriptor, 0, len(sample.Columns))
	for i, name := range sample.Columns {
		values := nonEmptyValues(sample.Rows, name)
		examples := values
		if len(examples) > ExampleCount {
			examples = examples[:ExampleCount]
		}
		out = append(out, ColumnDescriptor{
			Index:        i,
			Name:         name,
			OriginalName: name,
			Type:         inferType(values),
			Examples:     append([]table.Value{}, examples...),
		})
	}
	return out
}

// DetectType определяет тип одной колонки по всем переданным строкам.
func DetectType(rows []*table.Row, column string) ColumnType {
	return inferType(nonEmptyValues(rows, column))
}

func nonEmptyValues(rows []*table.Row, column string) []table.Value {
	var out []table.Value
	for _, r := range rows {
		v, ok := r.Get(column)
		if !ok || table.IsEmpty(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func inferType(values []table.Value) ColumnType {
	if len(values) == 0 {
		return TypeText
	}
	total := float64(len(values))

	numbers := 0
	for _, v := range values {
		if isNumeric(v) {
			numbers++
		}
	}
	if float64(numbers)/total > typeThreshold {
		return TypeNumber
	}

	dates := 0
	for _, v := range values {
		if isDate(v) {
			dates++
		}
	}
	if float64(dates)/total > typeThreshold {
		return TypeDate
	}

	return TypeText
}

func isNumeric(v table.Value) bool {
	switch t := v.(type) {
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case int, int64:
		return true
	case string:
		_, ok := parseNumber(t)
		return ok
	default:
		return false
	}
}

// parseNumber принимает десятичные литералы ("10", "-3.5", "1e3").
// Шестнадцатеричные формы, Inf и NaN числами не считаются.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	lower := strings.ToLower(strings.TrimLeft(s, "+-"))
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "inf") || strings.HasPrefix(lower, "nan") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006",
	"01/02/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02.01.2006",
	"02-01-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	"2 Jan 2006",
}

func isDate(v table.Value) bool {
	switch t := v.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		_, ok := parseDate(t)
		return ok
	default:
		return false
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
