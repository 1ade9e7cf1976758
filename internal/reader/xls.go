package reader

import (
	"fmt"
	"os"

	"github.com/extrame/xls"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

// readXLSFile читает первый лист книги старого формата (BIFF).
// Библиотека отдает все значения строками, типы восстанавливает анализатор.
func readXLSFile(path string, maxRows int) (t *table.Table, err error) {
	// extrame/xls паникует на поврежденных файлах.
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("ошибка разбора файла %s: %v", path, r)
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %v", path, err)
	}
	defer file.Close()

	wb, err := xls.OpenReader(file, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %v", path, err)
	}
	if wb == nil || wb.NumSheets() == 0 {
		return nil, fmt.Errorf("%w: в книге нет листов", table.ErrEmptyTable)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: первый лист не читается", table.ErrEmptyTable)
	}

	// Ведущие пустые строки до заголовка пропускаются.
	var rawHeader []string
	headerRow := 0
	for ; headerRow <= int(sheet.MaxRow); headerRow++ {
		header := sheetRow(sheet, headerRow)
		if header == nil {
			continue
		}
		cols := make([]string, 0, header.LastCol())
		for c := 0; c < header.LastCol(); c++ {
			cols = append(cols, header.Col(c))
		}
		if cols = trimTrailingEmpty(cols); len(cols) > 0 {
			rawHeader = cols
			break
		}
	}
	if len(rawHeader) == 0 {
		return nil, fmt.Errorf("%w: лист %q пуст", table.ErrEmptyTable, sheet.Name)
	}
	columns := normalizeHeaders(rawHeader)

	t = &table.Table{Columns: columns}
	for r := headerRow + 1; r <= int(sheet.MaxRow); r++ {
		if maxRows > 0 && len(t.Rows) >= maxRows {
			break
		}
		src := sheetRow(sheet, r)

		// Отсутствующая строка внутри листа - строка из пустых значений.
		row := table.NewRow(len(columns))
		for i, name := range columns {
			if src == nil {
				row.Set(name, "")
				continue
			}
			row.Set(name, src.Col(i))
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// sheetRow возвращает строку листа или nil: WorkSheet.Row паникует,
// если строки нет в файле.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
