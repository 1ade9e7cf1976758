package reader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

// Кандидаты на разделитель в порядке приоритета при равенстве счетчиков.
var separatorCandidates = []rune{',', ';', '\t', '|'}

// DetectSeparator выбирает самый частый разделитель в первых трех строках.
// Если ни один кандидат не встретился, возвращается запятая.
func DetectSeparator(head string) rune {
	lines := strings.SplitN(head, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	sample := strings.Join(lines, "\n")

	best := ','
	bestCount := 0
	for _, sep := range separatorCandidates {
		if n := strings.Count(sample, string(sep)); n > bestCount {
			best = sep
			bestCount = n
		}
	}
	return best
}

func readCSVFile(path string, maxRows int) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f, maxRows)
}

// ReadCSV разбирает CSV/TXT с автоопределением кодировки и разделителя.
// maxRows <= 0 означает чтение до конца потока.
func ReadCSV(r io.Reader, maxRows int) (*table.Table, error) {
	br := decodeText(r)
	sep := DetectSeparator(peekString(br))

	cr := csv.NewReader(br)
	cr.Comma = sep
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	rawHeader, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: нет строки заголовка", table.ErrEmptyTable)
		}
		return nil, fmt.Errorf("ошибка чтения заголовка: %w", err)
	}
	rawHeader = trimTrailingEmpty(rawHeader)
	if len(rawHeader) == 0 {
		return nil, fmt.Errorf("%w: заголовок не содержит колонок", table.ErrEmptyTable)
	}
	columns := normalizeHeaders(rawHeader)

	t := &table.Table{Columns: columns}
	for maxRows <= 0 || len(t.Rows) < maxRows {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки %d: %w", len(t.Rows)+2, err)
		}

		row := table.NewRow(len(columns))
		for i, name := range columns {
			if i < len(rec) {
				row.Set(name, rec[i])
			} else {
				row.Set(name, nil)
			}
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func peekString(br *bufio.Reader) string {
	b, _ := br.Peek(peekSize)
	return string(b)
}
