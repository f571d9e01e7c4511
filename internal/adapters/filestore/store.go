package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"stockdesk/internal/domain"
)

// BucketID — идентификатор единственного локального бакета.
const BucketID = "local"

// Store реализует domain.FileStore на файловой системе afero.
// Содержимое лежит в <dir>/<id>, метаданные в <dir>/<id>.json.
type Store struct {
	fs        afero.Fs
	dir       string
	publicURL string
	now       func() time.Time
}

// New создаёт хранилище. publicURL используется для ссылок просмотра.
func New(fsys afero.Fs, dir, publicURL string) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога файлов: %w", err)
	}
	return &Store{fs: fsys, dir: dir, publicURL: strings.TrimSuffix(publicURL, "/"), now: time.Now}, nil
}

// UploadFile сохраняет файл и определяет его MIME-тип по содержимому.
func (s *Store) UploadFile(ctx context.Context, upload domain.FileUpload) (domain.File, error) {
	if upload.Body == nil {
		return domain.File{}, fmt.Errorf("%w: пустой файл", domain.ErrValidation)
	}
	id := uuid.NewString()
	head := make([]byte, 3072)
	n, err := io.ReadFull(upload.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.File{}, fmt.Errorf("чтение файла: %w", err)
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), upload.Body)

	f, err := s.fs.Create(s.blobPath(id))
	if err != nil {
		return domain.File{}, fmt.Errorf("создание файла: %w", err)
	}
	size, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(s.blobPath(id))
		return domain.File{}, fmt.Errorf("запись файла: %w", err)
	}

	meta := domain.File{
		ID:        id,
		BucketID:  BucketID,
		Name:      path.Base(upload.Name),
		MimeType:  mimetype.Detect(head).String(),
		Size:      size,
		CreatedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return domain.File{}, fmt.Errorf("кодирование метаданных: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.metaPath(id), raw, 0o644); err != nil {
		_ = s.fs.Remove(s.blobPath(id))
		return domain.File{}, fmt.Errorf("запись метаданных: %w", err)
	}
	return meta, nil
}

// GetFile возвращает метаданные файла.
func (s *Store) GetFile(ctx context.Context, id string) (domain.File, error) {
	if !validID(id) {
		return domain.File{}, domain.ErrNotFound
	}
	raw, err := afero.ReadFile(s.fs, s.metaPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.File{}, domain.ErrNotFound
		}
		return domain.File{}, fmt.Errorf("чтение метаданных: %w", err)
	}
	var meta domain.File
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.File{}, fmt.Errorf("декодирование метаданных: %w", err)
	}
	return meta, nil
}

// FileViewURL возвращает публичную ссылку просмотра.
func (s *Store) FileViewURL(ctx context.Context, id string) (string, error) {
	if _, err := s.GetFile(ctx, id); err != nil {
		return "", err
	}
	return s.publicURL + "/api/v1/files/" + id + "/view", nil
}

// Open открывает содержимое файла для отдачи клиенту.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, domain.File, error) {
	meta, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, domain.File{}, err
	}
	f, err := s.fs.Open(s.blobPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.File{}, domain.ErrNotFound
		}
		return nil, domain.File{}, fmt.Errorf("открытие файла: %w", err)
	}
	return f, meta, nil
}

// DeleteFile удаляет файл и его метаданные.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	if err := s.fs.Remove(s.metaPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("удаление метаданных: %w", err)
	}
	if err := s.fs.Remove(s.blobPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("удаление файла: %w", err)
	}
	return nil
}

func (s *Store) blobPath(id string) string { return path.Join(s.dir, id) }
func (s *Store) metaPath(id string) string { return path.Join(s.dir, id+".json") }

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var _ domain.FileStore = (*Store)(nil)
