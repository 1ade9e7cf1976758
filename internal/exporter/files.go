package exporter

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ryabkov82/planilha-merger/internal/storage"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

// ExportInfo - запись списка экспортов.
type ExportInfo struct {
	FileName      string    `json:"filename"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	Format        string    `json:"format"`
	CreatedAt     time.Time `json:"createDate"`
	DownloadURL   string    `json:"downloadUrl"`
}

// List возвращает .xlsx и .csv файлы каталога экспортов, новые первыми.
func (w *Writer) List() ([]ExportInfo, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ExportInfo{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", w.Dir, err)
	}

	out := make([]ExportInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(e.Name())), ".")
		if format != FormatXLSX && format != FormatCSV {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ExportInfo{
			FileName:      e.Name(),
			Size:          info.Size(),
			SizeFormatted: FormatSize(info.Size()),
			Format:        format,
			CreatedAt:     info.ModTime().UTC(),
			DownloadURL:   w.downloadURL(e.Name()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete удаляет файл экспорта по имени.
func (w *Writer) Delete(name string) error {
	if !storage.ValidName(name) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	if err := os.Remove(filepath.Join(w.Dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", table.ErrFileNotFound, name)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize форматирует размер в двоичных единицах с точностью до сотых: "1.5 KB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	v, i := float64(bytes), 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
