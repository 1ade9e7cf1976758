package service

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/analyzer"
	"github.com/ryabkov82/planilha-merger/internal/metrics"
	"github.com/ryabkov82/planilha-merger/internal/reader"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

type FileInfo struct {
	Name      string `json:"nome"`
	Extension string `json:"extensao"`
}

// Analysis - структура одного файла по выборке либо Error.
type Analysis struct {
	FileName     string                      `json:"fileName"`
	OriginalName string                      `json:"originalName"`
	Columns      []analyzer.ColumnDescriptor `json:"colunas,omitempty"`
	Sample       []*table.Row                `json:"amostraDados,omitempty"`
	File         *FileInfo                   `json:"arquivo,omitempty"`
	Error        string                      `json:"error,omitempty"`
}

// Analyze описывает колонки каждого файла по первым analyzer.SampleRows
// строкам. Ошибки изолированы по файлам.
func (s *Service) Analyze(ctx context.Context, files []FileRef) ([]Analysis, error) {
	if len(files) == 0 {
		return nil, invalid(MsgNoAnalyzeFiles)
	}
	start := time.Now()
	log.Infof("Анализ файлов: %d", len(files))

	out := make([]Analysis, 0, len(files))
	failed := 0
	for _, ref := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := s.analyzeOne(ref)
		if a.Error != "" {
			failed++
			log.Warnf("Ошибка анализа %s: %s", ref.OriginalName, a.Error)
		}
		out = append(out, a)
	}

	var stepErr error
	if failed == len(files) {
		stepErr = table.ErrEmptyTable
	}
	metrics.ObserveStep("analyze", start, stepErr)
	return out, nil
}

func (s *Service) analyzeOne(ref FileRef) Analysis {
	a := Analysis{FileName: ref.FileName, OriginalName: ref.OriginalName}
	name := ref.OriginalName
	if name == "" {
		name = ref.FileName
	}

	if !s.Store.Exists(ref.FileName) {
		a.Error = MsgFileNotFound
		return a
	}
	p, err := s.Store.Path(ref.FileName)
	if err != nil {
		a.Error = err.Error()
		return a
	}

	sample, err := reader.ReadSample(p, name, analyzer.SampleRows)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	a.Columns = analyzer.Analyze(sample)
	a.Sample = sample.Rows
	a.File = &FileInfo{Name: name, Extension: strings.ToLower(filepath.Ext(name))}
	return a
}
