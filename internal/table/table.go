// Package table описывает табличную модель, общую для чтения, анализа,
// объединения и экспорта: упорядоченный список колонок и строки в виде
// упорядоченного набора полей "имя колонки -> значение".
package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnsupportedFormat = errors.New("формат файла не поддерживается")
	ErrEmptyTable        = errors.New("таблица пуста")
	ErrFileNotFound      = errors.New("файл не найден")
)

// Value - значение ячейки: string, float64, bool или nil (пусто/нет значения).
type Value = any

// Table - результат чтения одного исходного файла.
type Table struct {
	Columns []string
	Rows    []*Row
}

// Len возвращает количество строк данных (без заголовка).
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Head возвращает первые n строк таблицы.
func (t *Table) Head(n int) []*Row {
	if t == nil || n <= 0 {
		return nil
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Row хранит поля в порядке первой записи. Повторная запись того же имени
// заменяет значение, позиция ключа сохраняется.
type Row struct {
	keys []string
	vals map[string]Value
}

func NewRow(capacity int) *Row {
	return &Row{
		keys: make([]string, 0, capacity),
		vals: make(map[string]Value, capacity),
	}
}

// RowOf собирает строку из пар имя/значение, удобно в тестах и при чтении.
func RowOf(kv ...any) *Row {
	r := NewRow(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		name, _ := kv[i].(string)
		r.Set(name, kv[i+1])
	}
	return r
}

func (r *Row) Set(name string, v Value) {
	if r.vals == nil {
		r.vals = make(map[string]Value)
	}
	if _, ok := r.vals[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.vals[name] = v
}

func (r *Row) Get(name string) (Value, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.vals[name]
	return v, ok
}

// Keys возвращает имена полей в порядке вставки. Срез нельзя менять.
func (r *Row) Keys() []string {
	if r == nil {
		return nil
	}
	return r.keys
}

func (r *Row) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// MarshalJSON сохраняет порядок полей, иначе encoding/json отсортирует ключи.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnionColumns возвращает объединение ключей всех строк в порядке первого появления.
func UnionColumns(rows []*Row) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range rows {
		for _, k := range r.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// IsEmpty сообщает, считается ли значение пустым (nil или пустая строка).
func IsEmpty(v Value) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// String приводит значение ячейки к строковому виду для CSV и ширины колонок.
func String(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
