// Package storage хранит загруженные файлы в плоском каталоге под
// сгенерированными именами. Каталог на диске - источник истины; sqlite-каталог
// (Catalog) только дополняет записи метаданными загрузки.
package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ryabkov82/planilha-merger/internal/table"
)

// ErrInvalidName - имя файла содержит разделители пути или "..".
var ErrInvalidName = errors.New("недопустимое имя файла")

// FileHandle - метаданные загруженного файла.
type FileHandle struct {
	ID           string    `json:"id,omitempty"`
	OriginalName string    `json:"originalName,omitempty"`
	StoredName   string    `json:"fileName"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"type,omitempty"`
	UploadedAt   time.Time `json:"uploadDate"`
	RowCount     int       `json:"totalLinhas,omitempty"`
	ColumnCount  int       `json:"totalColunas,omitempty"`
}

type Store struct {
	Dir string
	Now func() time.Time
}

func New(dir string) *Store {
	return &Store{Dir: dir, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", s.Dir, err)
	}
	return nil
}

// Save записывает поток под новым уникальным именем.
// При ошибке записи частичный файл удаляется.
func (s *Store) Save(originalName, mimeType string, r io.Reader) (*FileHandle, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}

	var (
		f      *os.File
		stored string
		err    error
	)
	for attempt := 0; attempt < 5; attempt++ {
		stored = UniqueName(originalName, s.now())
		f, err = os.OpenFile(filepath.Join(s.Dir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла для %s: %w", originalName, err)
	}

	path := f.Name()
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("ошибка записи файла %s: %w", originalName, err)
	}

	return &FileHandle{
		ID:           uuid.NewString(),
		OriginalName: originalName,
		StoredName:   stored,
		Path:         path,
		Size:         size,
		MimeType:     mimeType,
		UploadedAt:   s.now().UTC(),
	}, nil
}

// Path возвращает путь к сохраненному файлу, проверяя имя.
func (s *Store) Path(stored string) (string, error) {
	if !ValidName(stored) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, stored)
	}
	return filepath.Join(s.Dir, stored), nil
}

func (s *Store) Exists(stored string) bool {
	p, err := s.Path(stored)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// List перечисляет файлы каталога, новые первыми. Отсутствующий каталог - пустой список.
func (s *Store) List() ([]FileHandle, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileHandle{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", s.Dir, err)
	}

	out := make([]FileHandle, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileHandle{
			StoredName: e.Name(),
			Path:       filepath.Join(s.Dir, e.Name()),
			Size:       info.Size(),
			UploadedAt: info.ModTime().UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// Delete удаляет файл; отсутствующий файл - table.ErrFileNotFound.
func (s *Store) Delete(stored string) error {
	p, err := s.Path(stored)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", table.ErrFileNotFound, stored)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", stored, err)
	}
	return nil
}

// CleanOlderThan удаляет файлы, измененные раньше чем maxAge назад.
// Возвращает имена удаленных файлов.
func (s *Store) CleanOlderThan(maxAge time.Duration) ([]string, error) {
	return cleanDir(s.Dir, s.now().Add(-maxAge))
}

func cleanDir(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", dir, err)
	}

	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("ошибка удаления файла %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// CleanDir - CleanOlderThan для произвольного каталога (например, экспортов).
func CleanDir(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	return cleanDir(dir, now.Add(-maxAge))
}

// ValidName отклоняет пустые имена, разделители пути и "..".
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeBase оставляет в имени только латиницу, цифры, '_' и '-'.
func SanitizeBase(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// UniqueName строит имя "<base>_<unix ms>_<6 символов base36><ext>".
func UniqueName(originalName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !ValidName("x" + ext) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = SanitizeBase(base)
	if base == "" {
		base = "arquivo"
	}
	return base + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix(6) + ext
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomSuffix(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = base36[time.Now().UnixNano()%int64(len(base36))]
			continue
		}
		b[i] = base36[v.Int64()]
	}
	return string(b)
}
