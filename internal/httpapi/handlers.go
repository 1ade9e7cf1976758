package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/ryabkov82/planilha-merger/internal/service"
)

const (
	msgDeleted        = "Arquivo removido com sucesso!"
	msgExportDeleted  = "Arquivo removido com sucesso"
	msgUploadFailed   = "Erro ao processar planilha"
	msgUploadError    = "Erro no upload"
	msgAnalyzeDone    = "Análise concluída"
	msgAnalyzeFailed  = "Erro interno na análise"
	msgPreviewDone    = "Preview gerado com sucesso"
	msgPreviewFailed  = "Erro ao gerar preview"
	msgCombineDone    = "Planilha combinada com sucesso"
	msgCombineFailed  = "Erro ao combinar planilhas"
	msgListFailed     = "Erro ao listar arquivos"
	msgListExpFailed  = "Erro ao listar exports"
	msgDeleteFailed   = "Erro ao remover arquivo"
	multipartInMemory = 32 << 20
)

// uploadFields - имена полей формы с файлами.
var uploadFields = []string{"planilhas", "planilhas[]"}

func (a *API) uploadFiles(w http.ResponseWriter, r *http.Request) {
	cfg := a.svc.Cfg
	// запас на заголовки частей multipart
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxFileSize*int64(cfg.MaxFiles)+1<<20)
	if err := r.ParseMultipartForm(multipartInMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			err = &service.ValidationError{Message: service.MsgNoFiles}
		}
		a.fail(w, r, err, msgUploadError)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var headers []*multipart.FileHeader
	for _, field := range uploadFields {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	files := make([]service.IncomingFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, service.IncomingFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	res, err := a.svc.Upload(r.Context(), files)
	if err != nil {
		a.fail(w, r, err, msgUploadFailed)
		return
	}
	writeOK(w, res.Message(), map[string]any{
		"files":   res.Files,
		"summary": res.Summary,
	})
}

func (a *API) listUploads(w http.ResponseWriter, r *http.Request) {
	files, err := a.svc.ListUploads(r.Context())
	if err != nil {
		a.fail(w, r, err, msgListFailed)
		return
	}
	writeOK(w, "", map[string]any{"files": files})
}

func (a *API) deleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteUpload(r.Context(), r.PathValue("filename")); err != nil {
		a.fail(w, r, err, msgDeleteFailed)
		return
	}
	writeOK(w, msgDeleted, nil)
}

type analyzeRequest struct {
	Files []service.FileRef `json:"files"`
}

func (a *API) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err, msgAnalyzeFailed)
		return
	}
	out, err := a.svc.Analyze(r.Context(), req.Files)
	if err != nil {
		a.fail(w, r, err, msgAnalyzeFailed)
		return
	}
	writeOK(w, msgAnalyzeDone, map[string]any{"analises": out})
}

func (a *API) preview(w http.ResponseWriter, r *http.Request) {
	var req service.PreviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err, msgPreviewFailed)
		return
	}
	p, err := a.svc.Preview(r.Context(), req)
	if err != nil {
		a.fail(w, r, err, msgPreviewFailed)
		return
	}
	writeOK(w, msgPreviewDone, map[string]any{
		"preview": p,
		"info": map[string]any{
			"linhasExibidas": len(p.Rows),
			"totalEstimado":  p.TotalRowCount,
			"colunas":        p.Columns,
		},
	})
}

func (a *API) combine(w http.ResponseWriter, r *http.Request) {
	var req service.CombineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err, msgCombineFailed)
		return
	}
	res, err := a.svc.Combine(r.Context(), req)
	if err != nil {
		a.fail(w, r, err, msgCombineFailed)
		return
	}
	writeOK(w, msgCombineDone, map[string]any{
		"arquivo":      res.File,
		"estatisticas": res.Stats,
	})
}

func (a *API) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := a.svc.ListExports()
	if err != nil {
		a.fail(w, r, err, msgListExpFailed)
		return
	}
	writeOK(w, "", map[string]any{"exports": exports})
}

func (a *API) deleteExport(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteExport(r.PathValue("filename")); err != nil {
		a.fail(w, r, err, msgDeleteFailed)
		return
	}
	writeOK(w, msgExportDeleted, nil)
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
