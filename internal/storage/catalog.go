package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Catalog хранит метаданные загрузок (исходное имя, UUID, размер таблицы)
// в sqlite. Записи без файла на диске игнорируются при выдаче списка.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `CREATE TABLE IF NOT EXISTS uploads (
	stored_name   TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	original_name TEXT NOT NULL,
	size          INTEGER NOT NULL,
	mime_type     TEXT NOT NULL DEFAULT '',
	uploaded_at   TEXT NOT NULL,
	row_count     INTEGER NOT NULL DEFAULT 0,
	column_count  INTEGER NOT NULL DEFAULT 0
)`

// OpenCatalog открывает (и при необходимости создает) каталог по DSN,
// например "file:uploads.db" или ":memory:".
func OpenCatalog(ctx context.Context, dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия каталога %s: %w", dsn, err)
	}
	// Один коннект: для ":memory:" каждое соединение - своя база.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("каталог %s недоступен: %w", dsn, err)
	}
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы uploads: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Put добавляет или заменяет запись по stored_name.
func (c *Catalog) Put(ctx context.Context, h FileHandle) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO uploads
			(stored_name, id, original_name, size, mime_type, uploaded_at, row_count, column_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.StoredName, h.ID, h.OriginalName, h.Size, h.MimeType,
		h.UploadedAt.UTC().Format(time.RFC3339Nano), h.RowCount, h.ColumnCount,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в каталог %s: %w", h.StoredName, err)
	}
	return nil
}

// Get возвращает запись; ok=false, если ее нет.
func (c *Catalog) Get(ctx context.Context, stored string) (FileHandle, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT stored_name, id, original_name, size, mime_type, uploaded_at, row_count, column_count
		FROM uploads WHERE stored_name = ?`, stored)
	h, err := scanHandle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FileHandle{}, false, nil
	}
	if err != nil {
		return FileHandle{}, false, fmt.Errorf("ошибка чтения каталога %s: %w", stored, err)
	}
	return h, true, nil
}

func (c *Catalog) Delete(ctx context.Context, stored string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM uploads WHERE stored_name = ?`, stored); err != nil {
		return fmt.Errorf("ошибка удаления из каталога %s: %w", stored, err)
	}
	return nil
}

// All возвращает все записи по stored_name.
func (c *Catalog) All(ctx context.Context) (map[string]FileHandle, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT stored_name, id, original_name, size, mime_type, uploaded_at, row_count, column_count
		FROM uploads`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога: %w", err)
	}
	defer rows.Close()

	out := make(map[string]FileHandle)
	for rows.Next() {
		h, err := scanHandle(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения каталога: %w", err)
		}
		out[h.StoredName] = h
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHandle(s scanner) (FileHandle, error) {
	var (
		h  FileHandle
		ts string
	)
	if err := s.Scan(&h.StoredName, &h.ID, &h.OriginalName, &h.Size, &h.MimeType, &ts, &h.RowCount, &h.ColumnCount); err != nil {
		return FileHandle{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		h.UploadedAt = t
	}
	return h, nil
}

// Enrich дополняет записи списка каталога данными из sqlite.
// Файлы без записи остаются как есть, записи без файла отбрасываются.
func (c *Catalog) Enrich(ctx context.Context, files []FileHandle) ([]FileHandle, error) {
	known, err := c.All(ctx)
	if err != nil {
		return files, err
	}
	for i, f := range files {
		h, ok := known[f.StoredName]
		if !ok {
			continue
		}
		files[i].ID = h.ID
		files[i].OriginalName = h.OriginalName
		files[i].MimeType = h.MimeType
		files[i].UploadedAt = h.UploadedAt
		files[i].RowCount = h.RowCount
		files[i].ColumnCount = h.ColumnCount
	}
	return files, nil
}
