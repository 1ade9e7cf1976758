// Package config описывает параметры сервера. Значения по умолчанию можно
// переопределить переменными окружения, а их - флагами командной строки.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort        = 3000
	DefaultMaxFileSize = 100 * 1024 * 1024
	DefaultMaxFiles    = 10
	DefaultMaxRows     = 1000000
	DefaultMaxColumns  = 100
	DefaultTimeout     = 30 * time.Second
)

var (
	DefaultAllowedTypes = []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"text/csv",
		"text/plain",
	}
	DefaultAllowedExtensions = []string{".xlsx", ".xls", ".csv", ".txt"}
)

type Config struct {
	Port              int
	UploadDir         string
	ExportDir         string
	MaxFileSize       int64
	MaxFiles          int
	AllowedTypes      []string
	AllowedExtensions []string
	// MaxRows и MaxColumns - пороги предупреждений, файл не отклоняется.
	MaxRows           int
	MaxColumns        int
	ProcessingTimeout time.Duration
	ShutdownTimeout   time.Duration
	ExportFormat      string
	CatalogDSN        string // пусто - sqlite-каталог не используется
	CleanupAfter      time.Duration
	Metrics           string // none | datadog
	MetricsTags       string

	allowedTypes      string
	allowedExtensions string
}

// Register объявляет флаги в fs (flag.CommandLine для бинарника).
// Значения по умолчанию учитывают переменные окружения.
func Register(fs *flag.FlagSet) *Config {
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", envInt("PORT", DefaultPort), "порт HTTP-сервера")
	fs.StringVar(&cfg.UploadDir, "upload-dir", envStr("UPLOAD_DIR", "uploads"), "каталог загруженных файлов")
	fs.StringVar(&cfg.ExportDir, "export-dir", envStr("EXPORT_DIR", "exports"), "каталог экспортированных файлов")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", int64(envInt("MAX_FILE_SIZE", DefaultMaxFileSize)), "максимальный размер файла, байт")
	fs.IntVar(&cfg.MaxFiles, "max-files", envInt("MAX_FILES", DefaultMaxFiles), "максимум файлов в одной загрузке")
	fs.StringVar(&cfg.allowedTypes, "allowed-types", envStr("ALLOWED_TYPES", strings.Join(DefaultAllowedTypes, ",")), "разрешенные MIME-типы через запятую")
	fs.StringVar(&cfg.allowedExtensions, "allowed-extensions", envStr("ALLOWED_EXTENSIONS", strings.Join(DefaultAllowedExtensions, ",")), "разрешенные расширения через запятую")
	fs.IntVar(&cfg.MaxRows, "max-rows", envInt("MAX_ROWS", DefaultMaxRows), "порог предупреждения по числу строк")
	fs.IntVar(&cfg.MaxColumns, "max-columns", envInt("MAX_COLUMNS", DefaultMaxColumns), "порог предупреждения по числу колонок")
	fs.DurationVar(&cfg.ProcessingTimeout, "timeout", envDuration("PROCESSING_TIMEOUT", DefaultTimeout), "лимит времени на объединение и экспорт")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "время на завершение активных запросов")
	fs.StringVar(&cfg.ExportFormat, "export-format", envStr("EXPORT_FORMAT", "xlsx"), "формат экспорта по умолчанию: xlsx или csv")
	fs.StringVar(&cfg.CatalogDSN, "catalog-dsn", envStr("CATALOG_DSN", ""), "DSN sqlite-каталога загрузок (пусто - отключен)")
	fs.DurationVar(&cfg.CleanupAfter, "cleanup-after", envDuration("CLEANUP_AFTER", 0), "удалять при старте файлы старше указанного возраста (0 - не удалять)")
	fs.StringVar(&cfg.Metrics, "metrics", envStr("METRICS_BACKEND", ""), "бэкенд метрик: none или datadog (по умолчанию datadog при наличии DD_API_KEY)")
	fs.StringVar(&cfg.MetricsTags, "metrics-tags", envStr("METRICS_TAGS", ""), "дополнительные теги метрик через запятую")

	return cfg
}

// Validate проверяет значения и нормализует пути и списки.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("некорректный порт: %d", c.Port)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size должен быть > 0")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("max-files должен быть > 0")
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("timeout должен быть > 0")
	}
	if c.CleanupAfter < 0 {
		return fmt.Errorf("cleanup-after не может быть отрицательным")
	}
	if c.UploadDir == "" || c.ExportDir == "" {
		return fmt.Errorf("необходимо указать каталоги через -upload-dir и -export-dir")
	}

	// Нормализация путей
	c.UploadDir = filepath.Clean(c.UploadDir)
	c.ExportDir = filepath.Clean(c.ExportDir)

	if c.allowedTypes != "" || c.AllowedTypes == nil {
		c.AllowedTypes = splitList(c.allowedTypes, false)
	}
	if c.allowedExtensions != "" || c.AllowedExtensions == nil {
		c.AllowedExtensions = splitList(c.allowedExtensions, true)
	}
	for i, ext := range c.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			c.AllowedExtensions[i] = "." + ext
		}
	}

	c.ExportFormat = strings.ToLower(strings.TrimSpace(c.ExportFormat))
	switch c.ExportFormat {
	case "xlsx", "csv":
	case "excel":
		c.ExportFormat = "xlsx"
	default:
		return fmt.Errorf("неизвестный формат экспорта: %q", c.ExportFormat)
	}

	c.Metrics = strings.ToLower(strings.TrimSpace(c.Metrics))
	if c.Metrics == "" {
		c.Metrics = "none"
		if os.Getenv("DD_API_KEY") != "" {
			c.Metrics = "datadog"
		}
	}
	if c.Metrics != "none" && c.Metrics != "datadog" {
		return fmt.Errorf("неизвестный бэкенд метрик: %q", c.Metrics)
	}

	return nil
}

// Addr - адрес для net/http.Server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// TypeAllowed разрешает файл, если подходит MIME-тип или расширение имени.
func (c *Config) TypeAllowed(mimeType, fileName string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, t := range c.AllowedTypes {
		if mimeType != "" && mimeType == t {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, e := range c.AllowedExtensions {
		if ext != "" && ext == e {
			return true
		}
	}
	return false
}

func splitList(s string, lower bool) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if lower {
			p = strings.ToLower(p)
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(envStr(key, "")); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := envStr(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Как в исходной конфигурации: голое число - миллисекунды.
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
