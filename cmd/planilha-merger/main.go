package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fortio.org/cli"
	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/config"
	"github.com/ryabkov82/planilha-merger/internal/exporter"
	"github.com/ryabkov82/planilha-merger/internal/httpapi"
	"github.com/ryabkov82/planilha-merger/internal/metrics"
	"github.com/ryabkov82/planilha-merger/internal/metrics/datadog"
	"github.com/ryabkov82/planilha-merger/internal/service"
	"github.com/ryabkov82/planilha-merger/internal/storage"
)

func main() {
	cfg := config.Register(flag.CommandLine)
	cli.ProgramName = "planilha-merger"
	cli.MaxArgs = 0
	cli.Main()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics == "datadog" {
		// Отдельный контекст: финальная отправка в Close идет уже после сигнала.
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			Tags: datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			log.Warnf("metrics: datadog недоступен: %v; метрики отключены", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warnf("metrics: ошибка финальной отправки: %v", err)
				}
			}()
			log.Infof("metrics: backend=datadog tags=%v", cfg.MetricsTags)
		}
	}

	var catalog *storage.Catalog
	if cfg.CatalogDSN != "" {
		c, err := storage.OpenCatalog(ctx, cfg.CatalogDSN)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		catalog = c
	}

	svc := service.New(cfg,
		storage.New(cfg.UploadDir),
		catalog,
		exporter.New(cfg.ExportDir, httpapi.ExportsPrefix),
	)
	if err := svc.Cleanup(ctx, cfg.CleanupAfter); err != nil {
		log.Warnf("Ошибка очистки старых файлов: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.New(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Сервер запущен на порту %d (uploads=%s, exports=%s)", cfg.Port, cfg.UploadDir, cfg.ExportDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("Завершение работы сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return nil
}
