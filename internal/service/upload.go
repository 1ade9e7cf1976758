package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/analyzer"
	"github.com/ryabkov82/planilha-merger/internal/metrics"
	"github.com/ryabkov82/planilha-merger/internal/reader"
	"github.com/ryabkov82/planilha-merger/internal/storage"
)

// IncomingFile - файл из multipart-запроса.
type IncomingFile struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// UploadedFile - результат по одному файлу: метаданные и сводка либо Error.
type UploadedFile struct {
	ID           string     `json:"id,omitempty"`
	OriginalName string     `json:"originalName"`
	FileName     string     `json:"fileName,omitempty"`
	Size         int64      `json:"size,omitempty"`
	Type         string     `json:"type,omitempty"`
	UploadDate   *time.Time `json:"uploadDate,omitempty"`
	*analyzer.Summary
	Error string `json:"error,omitempty"`
}

type UploadSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

type UploadResult struct {
	Files   []UploadedFile `json:"files"`
	Summary UploadSummary  `json:"summary"`
}

// Message - текст ответа вида "2 arquivo(s) processado(s) com sucesso, 1 com erro(s)".
func (r *UploadResult) Message() string {
	msg := fmt.Sprintf("%d arquivo(s) processado(s) com sucesso", r.Summary.Success)
	if r.Summary.Errors > 0 {
		msg += fmt.Sprintf(", %d com erro(s)", r.Summary.Errors)
	}
	return msg
}

// ValidateUpload проверяет пакет целиком до сохранения: количество файлов,
// размер и тип каждого. Любое нарушение отклоняет весь запрос.
func (s *Service) ValidateUpload(files []IncomingFile) error {
	if len(files) == 0 {
		return invalid(MsgNoFiles)
	}
	if len(files) > s.Cfg.MaxFiles {
		return invalid("Máximo de %d arquivos permitidos", s.Cfg.MaxFiles)
	}
	for _, f := range files {
		if f.Size > s.Cfg.MaxFileSize {
			return invalid("%s: %s", MsgFileSize, f.Name)
		}
		if !s.Cfg.TypeAllowed(f.MimeType, f.Name) {
			return invalid("%s: %s", MsgFileType, f.Name)
		}
	}
	return nil
}

// Upload сохраняет файлы и строит по каждому полную сводку. Ошибка одного
// файла записывается в его слот; сохраненный файл при этом удаляется.
func (s *Service) Upload(ctx context.Context, files []IncomingFile) (*UploadResult, error) {
	if err := s.ValidateUpload(files); err != nil {
		return nil, err
	}
	start := time.Now()
	log.Infof("Получено файлов для обработки: %d", len(files))

	res := &UploadResult{Files: make([]UploadedFile, 0, len(files))}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		uf, err := s.uploadOne(ctx, f)
		if err != nil {
			log.Errf("Ошибка обработки %s: %v", f.Name, err)
			uf = UploadedFile{OriginalName: f.Name, Error: err.Error()}
			res.Summary.Errors++
			metrics.IncCounter(metrics.UploadsTotal, 1, metrics.Labels{"status": "error"})
		} else {
			log.Infof("Файл обработан: %s (%d строк, %d колонок)", f.Name, uf.TotalRows, uf.TotalColumns)
			res.Summary.Success++
			metrics.IncCounter(metrics.UploadsTotal, 1, metrics.Labels{"status": "ok"})
		}
		res.Files = append(res.Files, uf)
	}
	res.Summary.Total = len(files)

	var stepErr error
	if res.Summary.Success == 0 {
		stepErr = errAllFailed
	}
	metrics.ObserveStep("upload", start, stepErr)
	return res, nil
}

func (s *Service) uploadOne(ctx context.Context, f IncomingFile) (UploadedFile, error) {
	rc, err := f.Open()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("ошибка открытия %s: %w", f.Name, err)
	}
	h, err := s.Store.Save(filepath.Base(f.Name), f.MimeType, rc)
	_ = rc.Close()
	if err != nil {
		return UploadedFile{}, err
	}

	t, err := reader.Read(h.Path, h.OriginalName)
	if err != nil {
		if rmErr := s.Store.Delete(h.StoredName); rmErr != nil {
			log.Warnf("Не удалось удалить %s: %v", h.StoredName, rmErr)
		}
		return UploadedFile{}, err
	}

	sum := analyzer.Summarize(t)
	s.warnLimits(h.OriginalName, sum)

	h.RowCount = sum.TotalRows
	h.ColumnCount = sum.TotalColumns
	if s.Catalog != nil {
		if err := s.Catalog.Put(ctx, *h); err != nil {
			log.Warnf("Ошибка записи в каталог %s: %v", h.StoredName, err)
		}
	}

	uploaded := h.UploadedAt
	return UploadedFile{
		ID:           h.ID,
		OriginalName: h.OriginalName,
		FileName:     h.StoredName,
		Size:         h.Size,
		Type:         h.MimeType,
		UploadDate:   &uploaded,
		Summary:      &sum,
	}, nil
}

var errAllFailed = errors.New("все файлы с ошибками")

// warnLimits: MaxRows и MaxColumns только предупреждают.
func (s *Service) warnLimits(name string, sum analyzer.Summary) {
	if s.Cfg.MaxRows > 0 && sum.TotalRows > s.Cfg.MaxRows {
		log.Warnf("%s: строк %d, больше порога %d", name, sum.TotalRows, s.Cfg.MaxRows)
	}
	if s.Cfg.MaxColumns > 0 && sum.TotalColumns > s.Cfg.MaxColumns {
		log.Warnf("%s: колонок %d, больше порога %d", name, sum.TotalColumns, s.Cfg.MaxColumns)
	}
}

// ListUploads перечисляет загруженные файлы, дополняя их данными каталога.
func (s *Service) ListUploads(ctx context.Context) ([]storage.FileHandle, error) {
	files, err := s.Store.List()
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].OriginalName = files[i].StoredName
	}
	if s.Catalog == nil {
		return files, nil
	}
	enriched, err := s.Catalog.Enrich(ctx, files)
	if err != nil {
		log.Warnf("Ошибка чтения каталога загрузок: %v", err)
	}
	return enriched, nil
}

// DeleteUpload удаляет загруженный файл и его запись в каталоге.
func (s *Service) DeleteUpload(ctx context.Context, stored string) error {
	if err := s.Store.Delete(stored); err != nil {
		return err
	}
	s.forget(ctx, stored)
	log.Infof("Файл удален: %s", stored)
	return nil
}
