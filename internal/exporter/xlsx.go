package exporter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ryabkov82/planilha-merger/internal/table"
	"github.com/xuri/excelize/v2"
)

const (
	widthSampleRows = 100
	minColWidth     = 8
	maxColWidth     = 60
)

type XLSXOptions struct {
	SheetName string
}

// CheckSheetName проверяет имя листа по правилам Excel: непустое, не длиннее
// excelize.MaxSheetNameLength символов, без :\/?*[] и без апострофа по краям.
func CheckSheetName(name string) error {
	var cause error
	switch {
	case strings.TrimSpace(name) == "":
		cause = excelize.ErrSheetNameBlank
	case utf8.RuneCountInString(name) > excelize.MaxSheetNameLength:
		cause = excelize.ErrSheetNameLength
	case strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'"):
		cause = excelize.ErrSheetNameSingleQuote
	case strings.ContainsAny(name, ":\\/?*[]"):
		cause = excelize.ErrSheetNameInvalid
	default:
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidSheetName, name, cause)
}

// xlsxWriter пишет один лист через StreamWriter: заголовок жирным,
// ширина колонок оценивается по заголовку и первым строкам.
type xlsxWriter struct {
	Headers      []string
	MaxColWidths map[int]int
	HeaderStyle  int
	Sheet        string
	OutFile      *excelize.File
	StreamWriter *excelize.StreamWriter
}

func (w *Writer) WriteXLSX(rows []*table.Row, baseName string, opts XLSXOptions) (*Artifact, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	at := w.now()

	xw := &xlsxWriter{Headers: header(rows), Sheet: opts.SheetName}
	if xw.Sheet == "" {
		xw.Sheet = DefaultSheetName
	}
	if err := CheckSheetName(xw.Sheet); err != nil {
		return nil, err
	}
	if err := xw.prepare(rows); err != nil {
		return nil, err
	}
	defer xw.OutFile.Close()

	if err := xw.writeRows(rows); err != nil {
		return nil, err
	}

	f, name, err := w.create(baseName, FormatXLSX, at)
	if err != nil {
		return nil, err
	}
	err = xw.OutFile.Write(f)
	return w.finish(f, name, FormatXLSX, err, len(rows), len(xw.Headers), at)
}

func (xw *xlsxWriter) prepare(rows []*table.Row) error {
	xw.OutFile = excelize.NewFile()
	defaultSheet := xw.OutFile.GetSheetName(0)
	if err := xw.OutFile.SetSheetName(defaultSheet, xw.Sheet); err != nil {
		_ = xw.OutFile.Close()
		return fmt.Errorf("ошибка переименования листа: %v", err)
	}

	style, err := xw.OutFile.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = xw.OutFile.Close()
		return fmt.Errorf("ошибка создания стиля заголовка: %v", err)
	}
	xw.HeaderStyle = style

	xw.StreamWriter, err = xw.OutFile.NewStreamWriter(xw.Sheet)
	if err != nil {
		_ = xw.OutFile.Close()
		return fmt.Errorf("ошибка создания StreamWriter: %v", err)
	}

	// Ширину StreamWriter принимает только до первой строки.
	xw.analyzeSample(rows)
	for i := range xw.Headers {
		if err := xw.StreamWriter.SetColWidth(i+1, i+1, float64(xw.MaxColWidths[i])); err != nil {
			_ = xw.OutFile.Close()
			return fmt.Errorf("ошибка установки ширины колонки %d: %v", i+1, err)
		}
	}
	return nil
}

// analyzeSample оценивает ширину колонок по заголовку и первым строкам данных.
func (xw *xlsxWriter) analyzeSample(rows []*table.Row) {
	xw.MaxColWidths = make(map[int]int, len(xw.Headers))
	for i, h := range xw.Headers {
		xw.MaxColWidths[i] = utf8.RuneCountInString(h)
	}
	for n, r := range rows {
		if n >= widthSampleRows {
			break
		}
		for i, h := range xw.Headers {
			v, _ := r.Get(h)
			if l := utf8.RuneCountInString(table.String(v)); l > xw.MaxColWidths[i] {
				xw.MaxColWidths[i] = l
			}
		}
	}
	for i, width := range xw.MaxColWidths {
		width += 2
		if width < minColWidth {
			width = minColWidth
		}
		if width > maxColWidth {
			width = maxColWidth
		}
		xw.MaxColWidths[i] = width
	}
}

func (xw *xlsxWriter) writeRows(rows []*table.Row) error {
	headerRow := make([]interface{}, len(xw.Headers))
	for i, h := range xw.Headers {
		headerRow[i] = excelize.Cell{Value: h, StyleID: xw.HeaderStyle}
	}
	if err := xw.StreamWriter.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("ошибка записи заголовков: %v", err)
	}

	rowData := make([]interface{}, len(xw.Headers))
	for n, r := range rows {
		for i, h := range xw.Headers {
			v, _ := r.Get(h)
			rowData[i] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err := xw.StreamWriter.SetRow(cell, rowData); err != nil {
			return fmt.Errorf("ошибка записи строки %d: %v", n+2, err)
		}
	}

	if err := xw.StreamWriter.Flush(); err != nil {
		return fmt.Errorf("ошибка финального flush: %v", err)
	}
	return nil
}
