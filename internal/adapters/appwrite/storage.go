package appwrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

type fileDoc struct {
	ID        string    `json:"$id"`
	BucketID  string    `json:"bucketId"`
	CreatedAt time.Time `json:"$createdAt"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"sizeOriginal"`
}

func (d fileDoc) toDomain() domain.File {
	return domain.File{
		ID:        d.ID,
		BucketID:  d.BucketID,
		Name:      d.Name,
		MimeType:  d.MimeType,
		Size:      d.Size,
		CreatedAt: d.CreatedAt,
	}
}

type multipartBody struct {
	reader      io.Reader
	contentType string
}

func newFileBody(upload domain.FileUpload) (*multipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("fileId", "unique()"); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", path.Base(upload.Name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &multipartBody{reader: &buf, contentType: w.FormDataContentType()}, nil
}

func (c *Client) filesPath() string {
	return "/storage/buckets/" + url.PathEscape(c.cfg.BucketID) + "/files"
}

// UploadFile загружает файл в бакет.
func (c *Client) UploadFile(ctx context.Context, upload domain.FileUpload) (domain.File, error) {
	if upload.Body == nil {
		return domain.File{}, fmt.Errorf("%w: пустой файл", domain.ErrValidation)
	}
	body, err := newFileBody(upload)
	if err != nil {
		return domain.File{}, fmt.Errorf("подготовка файла: %w", err)
	}
	var doc fileDoc
	if err := c.call(ctx, "create_file", http.MethodPost, c.filesPath(), nil, body, &doc, serverCreds); err != nil {
		return domain.File{}, fmt.Errorf("загрузка файла: %w", err)
	}
	return doc.toDomain(), nil
}

// GetFile возвращает метаданные файла.
func (c *Client) GetFile(ctx context.Context, id string) (domain.File, error) {
	var doc fileDoc
	if err := c.call(ctx, "get_file", http.MethodGet, c.filesPath()+"/"+url.PathEscape(id), nil, nil, &doc, serverCreds); err != nil {
		return domain.File{}, fmt.Errorf("получение файла: %w", err)
	}
	return doc.toDomain(), nil
}

// FileViewURL строит ссылку просмотра файла без обращения к API.
func (c *Client) FileViewURL(ctx context.Context, id string) (string, error) {
	if c.baseURL == nil || c.cfg.ProjectID == "" {
		return "", ErrNotConfigured
	}
	if id == "" {
		return "", fmt.Errorf("%w: пустой id файла", domain.ErrValidation)
	}
	view := *c.baseURL
	view.Path = path.Clean(view.Path + c.filesPath() + "/" + id + "/view")
	view.RawQuery = url.Values{"project": {c.cfg.ProjectID}}.Encode()
	return view.String(), nil
}

// Open скачивает содержимое файла.
func (c *Client) Open(ctx context.Context, id string) (io.ReadCloser, domain.File, error) {
	meta, err := c.GetFile(ctx, id)
	if err != nil {
		return nil, domain.File{}, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.filesPath()+"/"+url.PathEscape(id)+"/download", nil, nil, serverCreds)
	if err != nil {
		return nil, domain.File{}, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err == nil && resp.StatusCode >= 300 {
		resp.Body.Close()
		err = mapAPIError(resp.StatusCode, apiError{Message: resp.Status})
	}
	metrics.ObserveNetworkRequest("appwrite", "download_file", "store", start, err)
	if err != nil {
		return nil, domain.File{}, fmt.Errorf("скачивание файла: %w", err)
	}
	return resp.Body, meta, nil
}

// DeleteFile удаляет файл.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.call(ctx, "delete_file", http.MethodDelete, c.filesPath()+"/"+url.PathEscape(id), nil, nil, nil, serverCreds); err != nil {
		return fmt.Errorf("удаление файла: %w", err)
	}
	return nil
}

var _ domain.FileStore = (*Client)(nil)
