// Package metrics - тонкая прослойка над бэкендом метрик. Код сервиса
// зависит только от этого пакета; по умолчанию метрики никуда не отправляются.
package metrics

import (
	"sync"
	"time"
)

// Имена метрик сервиса.
const (
	UploadsTotal       = "planilha_uploads_total"
	CombineTotal       = "planilha_combine_total"
	RowsCombinedTotal  = "planilha_rows_combined_total"
	ExportsTotal       = "planilha_exports_total"
	StepDurationSecond = "planilha_step_duration_seconds"
)

type Labels map[string]string

type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher реализуют бэкенды с буферизацией.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend заменяет бэкенд процесса; nil возвращает no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush сбрасывает буфер бэкенда, если он буферизует.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// ObserveStep пишет длительность шага с момента start и статусом ok/error.
func ObserveStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveHistogram(StepDurationSecond, time.Since(start).Seconds(), Labels{"step": step, "status": status})
}
