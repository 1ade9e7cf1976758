// Package reader читает исходные файлы (CSV/TXT, XLSX, XLS) в table.Table.
//
// Read загружает файл целиком, ReadSample ограничивается первыми maxRows
// строками данных и используется для анализа структуры.
package reader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// Format - распознанный по расширению формат исходного файла.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatXLSX
	FormatXLS
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	case FormatXLS:
		return "xls"
	default:
		return "unknown"
	}
}

// DetectFormat определяет формат по расширению исходного (пользовательского) имени.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatUnknown
	}
}

// Read загружает таблицу целиком. originalName задает формат, path - место на диске.
func Read(path, originalName string) (*table.Table, error) {
	return read(path, originalName, 0)
}

// ReadSample читает заголовок и не более maxRows строк данных.
func ReadSample(path, originalName string, maxRows int) (*table.Table, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("размер выборки должен быть > 0, получено %d", maxRows)
	}
	return read(path, originalName, maxRows)
}

func read(path, originalName string, maxRows int) (*table.Table, error) {
	format := DetectFormat(originalName)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: %s", table.ErrUnsupportedFormat, filepath.Ext(originalName))
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", table.ErrFileNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("ошибка доступа к файлу %s: %w", filepath.Base(path), err)
	}

	var (
		t   *table.Table
		err error
	)
	switch format {
	case FormatCSV:
		t, err = readCSVFile(path, maxRows)
	case FormatXLSX:
		t, err = readXLSXFile(path, maxRows)
	case FormatXLS:
		t, err = readXLSFile(path, maxRows)
	}
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%w: нет строк данных после заголовка", table.ErrEmptyTable)
	}
	return t, nil
}

// normalizeHeaders заменяет пустые имена колонок на __EMPTY, __EMPTY_1, ...
// Дубликаты не переименовываются: при поиске по имени выигрывает последняя колонка.
func normalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	empty := 0
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			if empty == 0 {
				h = "__EMPTY"
			} else {
				h = "__EMPTY_" + strconv.Itoa(empty)
			}
			empty++
		}
		out[i] = h
	}
	return out
}

// trimTrailingEmpty отбрасывает пустые хвостовые ячейки заголовка,
// которые оставляют табличные редакторы после удаления колонок.
func trimTrailingEmpty(raw []string) []string {
	n := len(raw)
	for n > 0 && strings.TrimSpace(raw[n-1]) == "" {
		n--
	}
	return raw[:n]
}
