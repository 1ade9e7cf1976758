// Package exporter сохраняет объединенную таблицу в .xlsx или .csv в каталог
// экспортов и управляет уже созданными файлами.
package exporter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ryabkov82/planilha-merger/internal/storage"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

var (
	// ErrEmptyInput - нет строк для экспорта. Файл только с заголовком не пишется.
	ErrEmptyInput       = errors.New("нет данных для экспорта")
	// ErrInvalidSheetName - имя листа нарушает ограничения Excel.
	ErrInvalidSheetName = errors.New("недопустимое имя листа")
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	DefaultBaseName  = "planilha_combinada"
	DefaultSheetName = "Dados Combinados"

	timestampLayout = "2006-01-02T15-04-05"
	maxNameAttempts = 100
)

// Artifact - созданный файл экспорта.
type Artifact struct {
	FileName      string    `json:"fileName"`
	FilePath      string    `json:"filePath"`
	DownloadURL   string    `json:"downloadUrl"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	Format        string    `json:"format"`
	RowCount      int       `json:"totalRows"`
	ColumnCount   int       `json:"totalColumns"`
	CreatedAt     time.Time `json:"createDate"`
}

type Writer struct {
	Dir       string
	URLPrefix string
	Now       func() time.Time
}

func New(dir, urlPrefix string) *Writer {
	return &Writer{Dir: dir, URLPrefix: urlPrefix, Now: time.Now}
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Options объединяет параметры обоих форматов для Write.
type Options struct {
	XLSX XLSXOptions
	CSV  CSVOptions
}

// Write выбирает формат по имени: "xlsx"/"excel" или "csv".
func (w *Writer) Write(format string, rows []*table.Row, baseName string, opts Options) (*Artifact, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatXLSX, "excel":
		return w.WriteXLSX(rows, baseName, opts.XLSX)
	case FormatCSV:
		return w.WriteCSV(rows, baseName, opts.CSV)
	default:
		return nil, fmt.Errorf("%w: экспорт в %q", table.ErrUnsupportedFormat, format)
	}
}

// create создает новый файл "<base>_<UTC timestamp>.<ext>". Если имя занято,
// перед расширением добавляется _2, _3 и т.д.
func (w *Writer) create(baseName, ext string, at time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ошибка создания каталога %s: %w", w.Dir, err)
	}

	stem := cleanBaseName(baseName, ext) + "_" + at.UTC().Format(timestampLayout)
	for n := 1; n <= maxNameAttempts; n++ {
		name := stem
		if n > 1 {
			name += "_" + strconv.Itoa(n)
		}
		name += "." + ext

		f, err := os.OpenFile(filepath.Join(w.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("ошибка создания файла %s: %w", name, err)
		}
	}
	return nil, "", fmt.Errorf("не удалось подобрать свободное имя для %s.%s", stem, ext)
}

// finish закрывает файл и собирает Artifact; при ошибке файл удаляется.
func (w *Writer) finish(f *os.File, name, format string, writeErr error, rows, cols int, at time.Time) (*Artifact, error) {
	p := f.Name()
	if cerr := f.Close(); writeErr == nil {
		writeErr = cerr
	}
	if writeErr != nil {
		_ = os.Remove(p)
		return nil, fmt.Errorf("ошибка экспорта в %s: %w", format, writeErr)
	}

	st, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", name, err)
	}
	return &Artifact{
		FileName:      name,
		FilePath:      p,
		DownloadURL:   w.downloadURL(name),
		Size:          st.Size(),
		SizeFormatted: FormatSize(st.Size()),
		Format:        format,
		RowCount:      rows,
		ColumnCount:   cols,
		CreatedAt:     at.UTC(),
	}, nil
}

func (w *Writer) downloadURL(name string) string {
	prefix := w.URLPrefix
	if prefix == "" {
		prefix = "/exports/"
	}
	return path.Join(prefix, name)
}

func cleanBaseName(name, ext string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, "."+ext)
	name = storage.SanitizeBase(name)
	if strings.Trim(name, "_") == "" {
		return DefaultBaseName
	}
	return name
}

// header возвращает колонки экспорта: ключи первой строки, затем
// новые ключи последующих строк в порядке появления.
func header(rows []*table.Row) []string {
	return table.UnionColumns(rows)
}
