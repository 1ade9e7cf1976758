// Package httpapi - HTTP-интерфейс сервиса: JSON API загрузки, анализа,
// объединения и экспорта таблиц и раздача готовых файлов.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"fortio.org/log"
	"github.com/ryabkov82/planilha-merger/internal/exporter"
	"github.com/ryabkov82/planilha-merger/internal/service"
	"github.com/ryabkov82/planilha-merger/internal/storage"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

// ExportsPrefix - путь раздачи файлов экспорта.
const ExportsPrefix = "/exports/"

const maxJSONBody = 50 << 20

type API struct {
	svc *service.Service
}

// New возвращает обработчик со всеми маршрутами.
func New(svc *service.Service) http.Handler {
	a := &API{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload/files", a.uploadFiles)
	mux.HandleFunc("GET /api/upload/files", a.listUploads)
	mux.HandleFunc("DELETE /api/upload/files/{filename}", a.deleteUpload)

	mux.HandleFunc("POST /api/planilhas/analisar", a.analyze)
	mux.HandleFunc("POST /api/planilhas/preview", a.preview)
	mux.HandleFunc("POST /api/planilhas/combinar", a.combine)
	mux.HandleFunc("GET /api/planilhas/exports", a.listExports)
	mux.HandleFunc("DELETE /api/planilhas/exports/{filename}", a.deleteExport)

	mux.HandleFunc("GET "+ExportsPrefix+"{filename}", a.download)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "Rota não encontrada",
			"path":  r.URL.Path,
		})
	})

	return logRequests(cors(mux))
}

func (a *API) download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !storage.ValidName(name) {
		a.fail(w, r, storage.ErrInvalidName, service.MsgFileNotFound)
		return
	}
	p := filepath.Join(a.svc.Exporter.Dir, name)
	if !fileExists(p) {
		a.fail(w, r, table.ErrFileNotFound, service.MsgFileNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, p)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return &service.ValidationError{Message: "JSON inválido: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errf("Ошибка вывода JSON: %v", err)
	}
}

func writeOK(w http.ResponseWriter, message string, fields map[string]any) {
	body := map[string]any{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// statusFor сопоставляет вид ошибки HTTP-статусу.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, exporter.ErrEmptyInput),
		errors.Is(err, exporter.ErrInvalidSheetName),
		errors.Is(err, table.ErrUnsupportedFormat),
		errors.Is(err, table.ErrEmptyTable),
		errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, table.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail пишет ответ {success:false, message, error}. Для ошибок валидации
// message - их текст, иначе fallback маршрута.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	body := map[string]any{"success": false}

	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		body["message"] = ve.Message
	case status == http.StatusRequestEntityTooLarge:
		body["message"] = service.MsgFileSize
	case status == http.StatusNotFound:
		body["message"] = service.MsgFileNotFound
		body["error"] = err.Error()
	default:
		body["message"] = fallback
		body["error"] = err.Error()
	}

	lvl := log.Warning
	if status >= http.StatusInternalServerError {
		lvl = log.Error
	}
	log.S(lvl, "Ошибка запроса",
		log.Str("path", r.URL.Path),
		log.Attr("status", status),
		log.Str("err", err.Error()))
	writeJSON(w, status, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.S(log.Info, "Запрос",
			log.Str("method", r.Method),
			log.Str("path", r.URL.Path),
			log.Attr("status", rec.status),
			log.Attr("ms", time.Since(start).Milliseconds()))
	})
}

// cors разрешает запросы с любого origin, как фронтенд ожидает.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
