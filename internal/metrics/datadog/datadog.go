// Package datadog - бэкенд internal/metrics для Datadog.
//
// Метрики копятся в памяти и отправляются периодически (по умолчанию раз в
// минуту) и один раз при Close. Flush забирает буферы под мьютексом и
// отправляет их уже без блокировки.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/ryabkov82/planilha-merger/internal/metrics"
)

type Options struct {
	// Service - тег "service:<name>", по умолчанию "planilha-merger".
	Service string
	Tags    []string
	// FlushEvery <= 0 означает 60s.
	FlushEvery time.Duration

	// Подмены для тестов.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// counterKey - метрика плюс единственный тег измерения (status:ok, format:csv).
type counterKey struct {
	name string
	tag  string
}

type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu        sync.Mutex
	counters  map[counterKey]float64
	durations map[string][]float64 // step\x00status -> секунды
}

var _ metrics.Backend = (*Backend)(nil)

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend создает бэкенд и запускает фоновую отправку.
// Ключ API и сайт берутся клиентом Datadog из DD_API_KEY / DD_SITE.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = "planilha-merger"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[counterKey]float64),
		durations:  make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close останавливает фоновую отправку и делает финальный Flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.Flush()
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	var tag string
	switch name {
	case metrics.UploadsTotal, metrics.CombineTotal:
		tag = "status:" + orUnknown(labels["status"])
	case metrics.ExportsTotal:
		tag = "format:" + orUnknown(labels["format"])
	case metrics.RowsCombinedTotal:
	default:
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[counterKey{name: name, tag: tag}] += delta
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSecond {
		return
	}
	k := stepStatusKey(labels["step"], orUnknown(labels["status"]))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.durations[k] = append(b.durations[k], value)
}

type snapshot struct {
	counters  map[counterKey]float64
	durations map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.durations) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, durations: b.durations}
	b.counters = make(map[counterKey]float64)
	b.durations = make(map[string][]float64)
	return s
}

// Flush отправляет накопленное. Буферы сбрасываются и при ошибке отправки.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries: счетчики как COUNT, длительности как набор GAUGE-перцентилей.
// Серии отсортированы по имени для стабильного вывода.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counters)+6*len(s.durations))

	for k, v := range s.counters {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags)
		if k.tag != "" {
			tags = append(tags, k.tag)
		}
		series = append(series, point(seriesNames[k.name], datadogV2.METRICINTAKETYPE_COUNT, v, tags, nowUnix))
	}

	prefix := seriesNames[metrics.StepDurationSecond]
	for k, samples := range s.durations {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		step, status := splitStepStatusKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)

		gauge := datadogV2.METRICINTAKETYPE_GAUGE
		series = append(series,
			point(prefix+".p50", gauge, percentileNearestRank(cp, 0.50), tags, nowUnix),
			point(prefix+".p90", gauge, percentileNearestRank(cp, 0.90), tags, nowUnix),
			point(prefix+".p99", gauge, percentileNearestRank(cp, 0.99), tags, nowUnix),
			point(prefix+".max", gauge, cp[len(cp)-1], tags, nowUnix),
			point(prefix+".samples", gauge, float64(len(cp)), tags, nowUnix),
		)
	}

	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

var seriesNames = map[string]string{
	metrics.UploadsTotal:       "planilha.uploads.total",
	metrics.CombineTotal:       "planilha.combine.total",
	metrics.RowsCombinedTotal:  "planilha.rows_combined.total",
	metrics.ExportsTotal:       "planilha.exports.total",
	metrics.StepDurationSecond: "planilha.step.duration_seconds",
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV разбирает теги вида "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
