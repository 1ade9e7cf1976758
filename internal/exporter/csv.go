package exporter

import (
	"bufio"
	"strings"

	"github.com/ryabkov82/planilha-merger/internal/table"
)

type CSVOptions struct {
	Separator      string
	LineTerminator string
	// ExcludeHeader отключает строку заголовка (по умолчанию заголовок пишется).
	ExcludeHeader bool
}

func (o CSVOptions) withDefaults() CSVOptions {
	if o.Separator == "" {
		o.Separator = ","
	}
	if o.LineTerminator == "" {
		o.LineTerminator = "\n"
	}
	return o
}

// WriteCSV пишет строки, выравнивая значения по заголовку:
// отсутствующий в строке ключ дает пустое поле.
func (w *Writer) WriteCSV(rows []*table.Row, baseName string, opts CSVOptions) (*Artifact, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()
	at := w.now()
	cols := header(rows)

	f, name, err := w.create(baseName, FormatCSV, at)
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(f)
	err = encodeCSV(bw, rows, cols, opts)
	if err == nil {
		err = bw.Flush()
	}
	return w.finish(f, name, FormatCSV, err, len(rows), len(cols), at)
}

func encodeCSV(bw *bufio.Writer, rows []*table.Row, cols []string, opts CSVOptions) error {
	fields := make([]string, len(cols))
	writeLine := func() error {
		if _, err := bw.WriteString(strings.Join(fields, opts.Separator)); err != nil {
			return err
		}
		_, err := bw.WriteString(opts.LineTerminator)
		return err
	}

	if !opts.ExcludeHeader {
		for i, c := range cols {
			fields[i] = EscapeCSV(c, opts.Separator)
		}
		if err := writeLine(); err != nil {
			return err
		}
	}
	for _, r := range rows {
		for i, c := range cols {
			v, _ := r.Get(c)
			fields[i] = EscapeCSV(table.String(v), opts.Separator)
		}
		if err := writeLine(); err != nil {
			return err
		}
	}
	return nil
}

// EscapeCSV заключает поле в кавычки (удваивая внутренние), только если оно
// содержит разделитель, перевод строки, возврат каретки или кавычку.
func EscapeCSV(s, sep string) string {
	needs := strings.ContainsAny(s, "\n\r\"") || (sep != "" && strings.Contains(s, sep))
	if !needs {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
