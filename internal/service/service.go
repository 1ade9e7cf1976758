// Package service связывает чтение, анализ, объединение и экспорт таблиц
// с хранилищем загрузок. Каждый вызов работает только со своими
// аргументами; общее состояние - только каталоги на диске.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/config"
	"github.com/ryabkov82/planilha-merger/internal/exporter"
	"github.com/ryabkov82/planilha-merger/internal/merger"
	"github.com/ryabkov82/planilha-merger/internal/storage"
)

// Сообщения для клиента.
const (
	MsgNoFiles        = "Nenhum arquivo foi enviado"
	MsgFileType       = "Tipo de arquivo não permitido"
	MsgFileSize       = "Arquivo muito grande"
	MsgFileNotFound   = "Arquivo não encontrado"
	MsgNoAnalyzeFiles = "Nenhum arquivo foi especificado para análise"
	MsgNoSheets       = "Nenhuma planilha foi especificada para combinação"
	MsgNoColumns      = "Nenhuma coluna foi selecionada para combinação"
	MsgPreviewInput   = "Dados insuficientes para preview"
	MsgSheetName      = "Nome de aba inválido: %q"
)

// ErrValidation - некорректный запрос клиента. Конкретные ошибки имеют тип
// *ValidationError и совпадают с ErrValidation через errors.Is.
var ErrValidation = errors.New("некорректный запрос")

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// FileRef - ссылка клиента на загруженный файл.
type FileRef struct {
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
}

type Service struct {
	Cfg      *config.Config
	Store    *storage.Store
	Catalog  *storage.Catalog // может быть nil
	Exporter *exporter.Writer
	// Loader загружает полные таблицы для объединения; nil - чтение с диска.
	Loader merger.Loader
}

func New(cfg *config.Config, store *storage.Store, catalog *storage.Catalog, exp *exporter.Writer) *Service {
	return &Service{
		Cfg:      cfg,
		Store:    store,
		Catalog:  catalog,
		Exporter: exp,
		Loader:   merger.FileLoader,
	}
}

// sources превращает ссылки клиента в источники объединения.
// Имя проверяется только у файлов с выбранными колонками: остальные не
// читаются и остаются без пути. Наличие файла не проверяется, отсутствие
// обнаружит Loader.
func (s *Service) sources(refs []FileRef, sel merger.Selection) ([]merger.Source, error) {
	out := make([]merger.Source, 0, len(refs))
	for _, ref := range refs {
		display := ref.OriginalName
		if display == "" {
			display = ref.FileName
		}
		src := merger.Source{ID: ref.FileName, DisplayName: display}
		if len(sel.Columns(ref.FileName)) > 0 {
			p, err := s.Store.Path(ref.FileName)
			if err != nil {
				return nil, invalid("Nome de arquivo inválido: %q", ref.FileName)
			}
			src.Path = p
		}
		out = append(out, src)
	}
	return out, nil
}

// withTimeout ограничивает обработку ProcessingTimeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Cfg == nil || s.Cfg.ProcessingTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Cfg.ProcessingTimeout)
}

// Cleanup удаляет загрузки и экспорты старше maxAge.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	removed, err := s.Store.CleanOlderThan(maxAge)
	if err != nil {
		return err
	}
	for _, name := range removed {
		s.forget(ctx, name)
	}
	exported, err := storage.CleanDir(s.Exporter.Dir, maxAge, time.Now())
	if err != nil {
		return err
	}
	if n := len(removed) + len(exported); n > 0 {
		log.Infof("Очистка: удалено загрузок %d, экспортов %d", len(removed), len(exported))
	}
	return nil
}

// forget удаляет запись каталога; ошибка каталога не мешает операции с файлом.
func (s *Service) forget(ctx context.Context, stored string) {
	if s.Catalog == nil {
		return
	}
	if err := s.Catalog.Delete(ctx, stored); err != nil {
		log.Warnf("Ошибка удаления записи каталога %s: %v", stored, err)
	}
}
