package service

import (
	"context"
	"errors"
	"time"

	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/exporter"
	"github.com/ryabkov82/planilha-merger/internal/merger"
	"github.com/ryabkov82/planilha-merger/internal/metrics"
)

// Settings - параметры объединения и экспорта из запроса.
type Settings struct {
	IncludeOrigin    bool              `json:"incluirOrigem"`
	TrimStrings      bool              `json:"removerEspacos"`
	EmptyReplacement string            `json:"substituirVazios"`
	Rename           map[string]string `json:"renomearColunas"`

	// Format: "xlsx" или "csv"; пусто - формат из конфигурации.
	Format        string `json:"formato"`
	Separator     string `json:"separador"`
	IncludeHeader *bool  `json:"incluirCabecalho"`
	SheetName     string `json:"nomeAba"`
}

func (st Settings) mergeOptions() merger.Options {
	return merger.Options{
		IncludeOrigin:    st.IncludeOrigin,
		TrimStrings:      st.TrimStrings,
		EmptyReplacement: st.EmptyReplacement,
		Rename:           st.Rename,
	}
}

func (st Settings) exportOptions() exporter.Options {
	return exporter.Options{
		XLSX: exporter.XLSXOptions{SheetName: st.SheetName},
		CSV: exporter.CSVOptions{
			Separator:     st.Separator,
			ExcludeHeader: st.IncludeHeader != nil && !*st.IncludeHeader,
		},
	}
}

type CombineRequest struct {
	Sheets    []FileRef        `json:"planilhas"`
	Selection merger.Selection `json:"colunasEscolhidas"`
	FileName  string           `json:"nomeArquivoFinal"`
	Settings  Settings         `json:"configuracoes"`
}

type CombineStats struct {
	TotalRows       int                    `json:"totalLinhas"`
	TotalColumns    int                    `json:"totalColunas"`
	SourceSheets    int                    `json:"planilhasOriginais"`
	SelectedColumns int                    `json:"colunasCombinadas"`
	Missing         []merger.MissingColumn `json:"colunasNaoEncontradas,omitempty"`
}

type CombineResult struct {
	File  *exporter.Artifact `json:"arquivo"`
	Stats CombineStats       `json:"estatisticas"`
}

// Combine объединяет выбранные колонки и сразу экспортирует результат.
// Пустой результат экспорта - exporter.ErrEmptyInput.
func (s *Service) Combine(ctx context.Context, req CombineRequest) (_ *CombineResult, err error) {
	if len(req.Sheets) == 0 {
		return nil, invalid(MsgNoSheets)
	}
	if len(req.Selection) == 0 {
		return nil, invalid(MsgNoColumns)
	}
	if name := req.Settings.SheetName; name != "" {
		if err := exporter.CheckSheetName(name); err != nil {
			return nil, invalid(MsgSheetName, name)
		}
	}
	sources, err := s.sources(req.Sheets, req.Selection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.IncCounter(metrics.CombineTotal, 1, metrics.Labels{"status": status})
	}()

	log.Infof("Объединение колонок из %d файлов", len(sources))
	res, err := merger.Combine(ctx, sources, req.Selection, req.Settings.mergeOptions(), s.Loader)
	metrics.ObserveStep("combine", start, err)
	if err != nil {
		return nil, timeoutErr(err)
	}
	for _, m := range res.Missing {
		log.Warnf("Колонка %q не найдена в %s", m.Column, m.SourceID)
	}
	metrics.IncCounter(metrics.RowsCombinedTotal, float64(len(res.Rows)), nil)

	if err := ctx.Err(); err != nil {
		return nil, timeoutErr(err)
	}

	format := req.Settings.Format
	if format == "" {
		format = s.Cfg.ExportFormat
	}
	exportStart := time.Now()
	art, err := s.Exporter.Write(format, res.Rows, req.FileName, req.Settings.exportOptions())
	metrics.ObserveStep("export", exportStart, err)
	if err != nil {
		return nil, err
	}
	metrics.IncCounter(metrics.ExportsTotal, 1, metrics.Labels{"format": art.Format})
	log.Infof("Создан файл %s: %d строк, %d колонок", art.FileName, art.RowCount, art.ColumnCount)

	selected := 0
	for _, cols := range req.Selection {
		selected += len(cols)
	}
	return &CombineResult{
		File: art,
		Stats: CombineStats{
			TotalRows:       len(res.Rows),
			TotalColumns:    len(res.Columns()),
			SourceSheets:    len(req.Sheets),
			SelectedColumns: selected,
			Missing:         res.Missing,
		},
	}, nil
}

type PreviewRequest struct {
	Sheets    []FileRef        `json:"planilhas"`
	Selection merger.Selection `json:"colunasEscolhidas"`
	Limit     int              `json:"limiteLinha"`
}

// Preview строит то же объединение, что и Combine с колонкой источника,
// и возвращает первые Limit строк.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*merger.PreviewResult, error) {
	if req.Sheets == nil || req.Selection == nil {
		return nil, invalid(MsgPreviewInput)
	}
	sources, err := s.sources(req.Sheets, req.Selection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	p, err := merger.Preview(ctx, sources, req.Selection, req.Limit, s.Loader)
	metrics.ObserveStep("preview", start, err)
	if err != nil {
		return nil, timeoutErr(err)
	}
	return p, nil
}

// ErrTimeout - обработка не уложилась в ProcessingTimeout.
var ErrTimeout = errors.New("превышено время обработки")

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// ListExports и DeleteExport - файлы экспорта.
func (s *Service) ListExports() ([]exporter.ExportInfo, error) {
	return s.Exporter.List()
}

func (s *Service) DeleteExport(name string) error {
	if err := s.Exporter.Delete(name); err != nil {
		return err
	}
	log.Infof("Экспорт удален: %s", name)
	return nil
}
