package service

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ryabkov82/planilha-merger/internal/analyzer"
	"github.com/ryabkov82/planilha-merger/internal/config"
	"github.com/ryabkov82/planilha-merger/internal/exporter"
	"github.com/ryabkov82/planilha-merger/internal/merger"
	"github.com/ryabkov82/planilha-merger/internal/storage"
	"github.com/ryabkov82/planilha-merger/internal/table"
	"github.com/xuri/excelize/v2"
)

const scenarioCSV = "id,name,amount\n1,Alice,10\n2,Bob,20\n"

func newTestService(t *testing.T, args ...string) *Service {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg := config.Register(fs)
	if err := fs.Parse(append([]string{"-metrics", "none"}, args...)); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	dir := t.TempDir()
	return New(cfg,
		storage.New(filepath.Join(dir, "uploads")),
		nil,
		exporter.New(filepath.Join(dir, "exports"), "/exports/"),
	)
}

func incoming(name, mime, content string) IncomingFile {
	return IncomingFile{
		Name:     name,
		MimeType: mime,
		Size:     int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func uploadOK(t *testing.T, s *Service, name, content string) UploadedFile {
	t.Helper()
	res, err := s.Upload(context.Background(), []IncomingFile{incoming(name, "text/csv", content)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Summary.Success != 1 {
		t.Fatalf("Upload(%s) = %+v", name, res.Files)
	}
	return res.Files[0]
}

func TestUploadSummarizes(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	f := uploadOK(t, s, "dados.csv", scenarioCSV)
	if f.ID == "" || f.FileName == "" || f.UploadDate == nil {
		t.Fatalf("metadata missing: %+v", f)
	}
	if f.TotalRows != 2 || f.TotalColumns != 3 {
		t.Fatalf("rows/cols = %d/%d, want 2/3", f.TotalRows, f.TotalColumns)
	}
	want := map[string]analyzer.ColumnType{"id": analyzer.TypeNumber, "name": analyzer.TypeText, "amount": analyzer.TypeNumber}
	for col, typ := range want {
		if f.Types[col] != typ {
			t.Fatalf("type(%s) = %q, want %q", col, f.Types[col], typ)
		}
	}
	if !s.Store.Exists(f.FileName) {
		t.Fatalf("stored file %s missing", f.FileName)
	}
}

func TestUploadIsolatesFailures(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	res, err := s.Upload(context.Background(), []IncomingFile{
		incoming("ok.csv", "text/csv", scenarioCSV),
		incoming("empty.csv", "text/csv", "a,b\n"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Summary != (UploadSummary{Total: 2, Success: 1, Errors: 1}) {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if res.Files[1].Error == "" || res.Files[1].OriginalName != "empty.csv" || res.Files[1].Summary != nil {
		t.Fatalf("failed slot = %+v", res.Files[1])
	}
	if got, want := res.Message(), "1 arquivo(s) processado(s) com sucesso, 1 com erro(s)"; got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}

	files, err := s.Store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("stored files = %d, want 1 (failed upload must be removed)", len(files))
	}
}

func TestValidateUpload(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "-max-files", "2", "-max-file-size", "10")

	tests := []struct {
		name  string
		files []IncomingFile
	}{
		{"none", nil},
		{"too many", []IncomingFile{
			incoming("a.csv", "text/csv", "x"),
			incoming("b.csv", "text/csv", "x"),
			incoming("c.csv", "text/csv", "x"),
		}},
		{"too big", []IncomingFile{incoming("a.csv", "text/csv", "0123456789ab")}},
		{"bad type", []IncomingFile{incoming("a.pdf", "application/pdf", "x")}},
	}
	for _, tt := range tests {
		err := s.ValidateUpload(tt.files)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: err = %v, want ErrValidation", tt.name, err)
		}
	}
	if err := s.ValidateUpload([]IncomingFile{incoming("a.txt", "", "x")}); err != nil {
		t.Fatalf("ValidateUpload(a.txt) = %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	f := uploadOK(t, s, "dados.csv", scenarioCSV)

	got, err := s.Analyze(context.Background(), []FileRef{
		{FileName: f.FileName, OriginalName: "dados.csv"},
		{FileName: "missing.csv", OriginalName: "missing.csv"},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if len(got[0].Columns) != 3 || got[0].Columns[1].Name != "name" || got[0].Columns[1].Type != analyzer.TypeText {
		t.Fatalf("columns = %+v", got[0].Columns)
	}
	if len(got[0].Sample) != 2 || got[0].File.Extension != ".csv" {
		t.Fatalf("sample = %d, file = %+v", len(got[0].Sample), got[0].File)
	}
	if got[1].Error != MsgFileNotFound {
		t.Fatalf("missing file error = %q", got[1].Error)
	}

	if _, err := s.Analyze(context.Background(), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("Analyze(nil) err = %v, want ErrValidation", err)
	}
}

func TestCombineExportsCSV(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	f := uploadOK(t, s, "dados.csv", scenarioCSV)

	res, err := s.Combine(context.Background(), CombineRequest{
		Sheets: []FileRef{{FileName: f.FileName, OriginalName: "dados.csv"}},
		Selection: merger.Selection{f.FileName: {
			{Index: 1, Name: "name"},
			{Index: 2, Name: "amount"},
			{Index: 9, Name: "ghost"},
		}},
		FileName: "resultado",
		Settings: Settings{Format: "csv"},
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if res.Stats.TotalRows != 2 || res.Stats.TotalColumns != 2 || res.Stats.SourceSheets != 1 || res.Stats.SelectedColumns != 3 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if len(res.Stats.Missing) != 1 || res.Stats.Missing[0].Column != "ghost" {
		t.Fatalf("missing = %+v", res.Stats.Missing)
	}
	if !strings.HasPrefix(res.File.FileName, "resultado_") || res.File.Format != "csv" {
		t.Fatalf("artifact = %+v", res.File)
	}

	b, err := os.ReadFile(res.File.FilePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := string(b), "name,amount\nAlice,10\nBob,20\n"; got != want {
		t.Fatalf("export = %q, want %q", got, want)
	}

	exports, err := s.ListExports()
	if err != nil || len(exports) != 1 {
		t.Fatalf("ListExports = %v, %v", exports, err)
	}
	if err := s.DeleteExport(res.File.FileName); err != nil {
		t.Fatalf("DeleteExport: %v", err)
	}
	if err := s.DeleteExport(res.File.FileName); !errors.Is(err, table.ErrFileNotFound) {
		t.Fatalf("second DeleteExport err = %v, want ErrFileNotFound", err)
	}
}

func TestCombineErrors(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	f := uploadOK(t, s, "dados.csv", scenarioCSV)
	sheets := []FileRef{{FileName: f.FileName, OriginalName: "dados.csv"}}
	ctx := context.Background()

	if _, err := s.Combine(ctx, CombineRequest{Selection: merger.Selection{f.FileName: {{Name: "id"}}}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("no sheets err = %v", err)
	}
	if _, err := s.Combine(ctx, CombineRequest{Sheets: sheets}); !errors.Is(err, ErrValidation) {
		t.Fatalf("no selection err = %v", err)
	}
	if _, err := s.Combine(ctx, CombineRequest{
		Sheets:    []FileRef{{FileName: "../etc/passwd"}},
		Selection: merger.Selection{"../etc/passwd": {{Name: "id"}}},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad name err = %v", err)
	}
	// Пустой выбор колонок дает 0 строк, экспорт отклоняется.
	if _, err := s.Combine(ctx, CombineRequest{Sheets: sheets, Selection: merger.Selection{f.FileName: {}}}); !errors.Is(err, exporter.ErrEmptyInput) {
		t.Fatalf("empty selection err = %v, want ErrEmptyInput", err)
	}
	if _, err := s.Combine(ctx, CombineRequest{
		Sheets:    []FileRef{{FileName: "gone.csv", OriginalName: "gone.csv"}},
		Selection: merger.Selection{"gone.csv": {{Name: "id"}}},
	}); !errors.Is(err, table.ErrFileNotFound) {
		t.Fatalf("missing source err = %v, want ErrFileNotFound", err)
	}
}

func TestCombineSheetName(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	f := uploadOK(t, s, "dados.csv", scenarioCSV)
	req := func(name string) CombineRequest {
		return CombineRequest{
			Sheets:    []FileRef{{FileName: f.FileName, OriginalName: "dados.csv"}},
			Selection: merger.Selection{f.FileName: {{Name: "name"}}},
			Settings:  Settings{Format: "xlsx", SheetName: name},
		}
	}

	for _, name := range []string{"jan/fev", "'aba'", "dados[1]", strings.Repeat("x", 32)} {
		_, err := s.Combine(context.Background(), req(name))
		var ve *ValidationError
		if !errors.As(err, &ve) || !strings.Contains(ve.Message, name) {
			t.Fatalf("nomeAba %q: err = %v, want validation error", name, err)
		}
	}

	res, err := s.Combine(context.Background(), req("Resumo"))
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	x, err := excelize.OpenFile(res.File.FilePath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer x.Close()
	if got := x.GetSheetList(); len(got) != 1 || got[0] != "Resumo" {
		t.Fatalf("sheets = %v, want [Resumo]", got)
	}
}

func TestCombineIgnoresUnselectedSheets(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	f := uploadOK(t, s, "dados.csv", scenarioCSV)
	sheets := []FileRef{
		{FileName: f.FileName, OriginalName: "dados.csv"},
		{FileName: "../fora.csv", OriginalName: "fora.csv"},
	}
	sel := merger.Selection{f.FileName: {{Name: "name"}}}

	res, err := s.Combine(context.Background(), CombineRequest{
		Sheets:    sheets,
		Selection: sel,
		Settings:  Settings{Format: "csv"},
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if res.Stats.TotalRows != 2 || res.Stats.SourceSheets != 2 {
		t.Fatalf("stats = %+v", res.Stats)
	}

	p, err := s.Preview(context.Background(), PreviewRequest{Sheets: sheets, Selection: sel})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.TotalRowCount != 2 || p.SourcesProcessed != 2 {
		t.Fatalf("preview total %d, sources %d", p.TotalRowCount, p.SourcesProcessed)
	}

	// Выбранный файл с недопустимым именем по-прежнему отклоняется.
	sel["../fora.csv"] = []merger.ColumnRef{{Name: "name"}}
	if _, err := s.Preview(context.Background(), PreviewRequest{Sheets: sheets, Selection: sel}); !errors.Is(err, ErrValidation) {
		t.Fatalf("selected bad name err = %v, want ErrValidation", err)
	}
}

func TestCombineTimeout(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "-timeout", "10ms")
	s.Loader = merger.LoaderFunc(func(ctx context.Context, _ merger.Source) (*table.Table, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := s.Combine(context.Background(), CombineRequest{
		Sheets:    []FileRef{{FileName: "a.csv"}},
		Selection: merger.Selection{"a.csv": {{Name: "x"}}},
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	a := uploadOK(t, s, "a.csv", scenarioCSV)
	b := uploadOK(t, s, "b.csv", "name\nCarol\nDan\nEve\n")

	p, err := s.Preview(context.Background(), PreviewRequest{
		Sheets: []FileRef{
			{FileName: a.FileName, OriginalName: "a.csv"},
			{FileName: b.FileName, OriginalName: "b.csv"},
		},
		Selection: merger.Selection{
			a.FileName: {{Name: "name"}},
			b.FileName: {{Name: "name"}},
		},
		Limit: 3,
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(p.Rows) != 3 || p.TotalRowCount != 5 || p.SourcesProcessed != 2 {
		t.Fatalf("preview = %d rows, total %d, sources %d", len(p.Rows), p.TotalRowCount, p.SourcesProcessed)
	}
	if keys := p.Rows[2].Keys(); keys[0] != merger.OriginColumn {
		t.Fatalf("first key = %q, want %q", keys[0], merger.OriginColumn)
	}
	if v, _ := p.Rows[2].Get(merger.OriginColumn); v != "b.csv" {
		t.Fatalf("origin = %v, want b.csv", v)
	}

	if _, err := s.Preview(context.Background(), PreviewRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty preview err = %v", err)
	}
}

func TestCatalogEnrichesListing(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	c, err := storage.OpenCatalog(ctx, "file:"+filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	s.Catalog = c

	f := uploadOK(t, s, "dados.csv", scenarioCSV)

	files, err := s.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(files) != 1 || files[0].OriginalName != "dados.csv" || files[0].RowCount != 2 || files[0].ID != f.ID {
		t.Fatalf("files = %+v", files)
	}

	if err := s.DeleteUpload(ctx, f.FileName); err != nil {
		t.Fatalf("DeleteUpload: %v", err)
	}
	if _, ok, err := c.Get(ctx, f.FileName); err != nil || ok {
		t.Fatalf("catalog entry after delete: ok=%v err=%v", ok, err)
	}
	if err := s.DeleteUpload(ctx, f.FileName); !errors.Is(err, table.ErrFileNotFound) {
		t.Fatalf("second DeleteUpload err = %v, want ErrFileNotFound", err)
	}
	if err := s.DeleteUpload(ctx, "../x"); !errors.Is(err, storage.ErrInvalidName) {
		t.Fatalf("DeleteUpload(../x) err = %v, want ErrInvalidName", err)
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	old := uploadOK(t, s, "old.csv", scenarioCSV)
	fresh := uploadOK(t, s, "new.csv", scenarioCSV)

	p, _ := s.Store.Path(old.FileName)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(p, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := s.Cleanup(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if s.Store.Exists(old.FileName) {
		t.Fatalf("old upload not removed")
	}
	if !s.Store.Exists(fresh.FileName) {
		t.Fatalf("fresh upload removed")
	}
}
