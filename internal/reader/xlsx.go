package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ryabkov82/planilha-merger/internal/table"
	"github.com/xuri/excelize/v2"
)

// Форматы вывода дат из ячеек с датовым числовым форматом.
const (
	xlsxDateLayout     = "2006-01-02"
	xlsxDateTimeLayout = "2006-01-02 15:04:05"
	xlsxTimeLayout     = "15:04:05"
)

// readXLSXFile читает первый лист книги. Заголовок - первая непустая строка.
func readXLSXFile(path string, maxRows int) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %v", path, err)
	}
	defer f.Close()

	sheetList := f.GetSheetList()
	if len(sheetList) == 0 {
		return nil, fmt.Errorf("%w: в книге нет листов", table.ErrEmptyTable)
	}
	sheet := sheetList[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения строк из %s: %v", path, err)
	}
	defer rows.Close()

	// Ведущие пустые строки до заголовка пропускаются.
	var rawHeader []string
	rowInFile := 0
	for rows.Next() {
		rowInFile++
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения заголовка: %v", err)
		}
		if cols = trimTrailingEmpty(cols); len(cols) > 0 {
			rawHeader = cols
			break
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("ошибка чтения листа %q: %v", sheet, err)
	}
	if len(rawHeader) == 0 {
		return nil, fmt.Errorf("%w: лист %q пуст", table.ErrEmptyTable, sheet)
	}
	columns := normalizeHeaders(rawHeader)

	cells := newXLSXCells(f, sheet)
	t := &table.Table{Columns: columns}
	for rows.Next() {
		if maxRows > 0 && len(t.Rows) >= maxRows {
			break
		}
		rowInFile++

		// Сырые значения: числовой формат применяется ниже, по стилю ячейки.
		stringRow, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки %d: %v", rowInFile, err)
		}

		// Пустая строка внутри диапазона листа остается строкой из пустых значений.
		row := table.NewRow(len(columns))
		for i, name := range columns {
			if i >= len(stringRow) {
				row.Set(name, "")
				continue
			}
			cellRef, _ := excelize.CoordinatesToCellName(i+1, rowInFile)
			row.Set(name, cells.value(cellRef, stringRow[i]))
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("ошибка чтения листа %q: %v", sheet, err)
	}

	return t, nil
}

// xlsxCells восстанавливает типы значений одного листа.
type xlsxCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool

	// dateStyles - кэш "стиль -> датовый формат".
	dateStyles map[int]bool
}

func newXLSXCells(f *excelize.File, sheet string) *xlsxCells {
	c := &xlsxCells{f: f, sheet: sheet, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		c.date1904 = *props.Date1904
	}
	return c
}

// value отдает логические значения как bool, числа как float64, а числа
// с датовым форматом - строкой ISO ("2024-03-02", "2024-03-02 10:30:00").
func (c *xlsxCells) value(cellRef, raw string) table.Value {
	if raw == "" {
		return ""
	}
	valType, err := c.f.GetCellType(c.sheet, cellRef)
	if err != nil {
		return raw
	}

	switch valType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.ToLower(raw) == "true"
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeDate:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return raw
		}
		if valType == excelize.CellTypeDate || c.isDateCell(cellRef) {
			if s, ok := c.formatDate(n); ok {
				return s
			}
		}
		return n
	default:
		return raw
	}
}

func (c *xlsxCells) isDateCell(cellRef string) bool {
	styleID, err := c.f.GetCellStyle(c.sheet, cellRef)
	if err != nil || styleID == 0 {
		return false
	}
	if isDate, ok := c.dateStyles[styleID]; ok {
		return isDate
	}
	isDate := false
	if style, err := c.f.GetStyle(styleID); err == nil && style != nil {
		if style.CustomNumFmt != nil {
			isDate = isDateFormatCode(*style.CustomNumFmt)
		} else {
			isDate = isDateFormat(style.NumFmt)
		}
	}
	c.dateStyles[styleID] = isDate
	return isDate
}

func (c *xlsxCells) formatDate(serial float64) (string, bool) {
	ts, err := excelize.ExcelDateToTime(serial, c.date1904)
	if err != nil {
		return "", false
	}
	switch {
	case serial >= 0 && serial < 1:
		return ts.Format(xlsxTimeLayout), true
	case ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0:
		return ts.Format(xlsxDateLayout), true
	default:
		return ts.Format(xlsxDateTimeLayout), true
	}
}

// isDateFormat - встроенные форматы дат и времени, включая региональные.
func isDateFormat(fmtID int) bool {
	switch {
	case fmtID >= 14 && fmtID <= 22,
		fmtID >= 27 && fmtID <= 36,
		fmtID >= 45 && fmtID <= 47,
		fmtID >= 50 && fmtID <= 58:
		return true
	}
	return false
}

// isDateFormatCode проверяет пользовательский формат: литералы в кавычках,
// секции в [] и экранированные символы не учитываются.
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuotes, inBrackets, escaped := false, false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case escaped:
			escaped = false
		case inQuotes:
			inQuotes = r != '"'
		case inBrackets:
			inBrackets = r != ']'
		case r == '"':
			inQuotes = true
		case r == '[':
			inBrackets = true
		case r == '\\' || r == '_':
			escaped = true
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	if strings.ContainsAny(s, "ydhs") {
		return true
	}
	return strings.ContainsRune(s, 'm') && !strings.ContainsAny(s, "0#?")
}
