package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

// ErrNotConfigured возвращается, если не задан endpoint или проект.
var ErrNotConfigured = errors.New("appwrite: клиент не настроен")

// Config содержит идентификаторы проекта Appwrite.
type Config struct {
	Endpoint             string
	ProjectID            string
	APIKey               string
	DatabaseID           string
	CollectionArticles   string
	CollectionProfiles   string
	CollectionWatchLists string
	BucketID             string
}

// Client реализует шлюзы хранилища поверх REST API Appwrite.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
}

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient задаёт HTTP клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New создаёт клиента. Пустые идентификаторы проявятся ошибками при вызове.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.Endpoint != "" {
		if parsed, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/")); err == nil && parsed.Host != "" {
			c.baseURL = parsed
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// credentials определяет, какими заголовками подписан запрос.
type credentials struct {
	key     bool
	session string
}

var serverCreds = credentials{key: true}

type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any, creds credentials) (*http.Request, error) {
	if c.baseURL == nil || c.cfg.ProjectID == "" {
		return nil, ErrNotConfigured
	}
	resolved := *c.baseURL
	resolved.Path = path.Clean(strings.TrimSuffix(c.baseURL.Path, "/") + endpoint)
	resolved.RawQuery = query.Encode()

	var buf io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case *multipartBody:
		buf = b.reader
		contentType = b.contentType
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Appwrite-Project", c.cfg.ProjectID)
	if creds.key && c.cfg.APIKey != "" {
		req.Header.Set("X-Appwrite-Key", c.cfg.APIKey)
	}
	if creds.session != "" {
		req.Header.Set("X-Appwrite-Session", creds.session)
	}
	return req, nil
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, query url.Values, body, out any, creds credentials) error {
	req, err := c.newRequest(ctx, method, endpoint, query, body, creds)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.do(req, out)
	metrics.ObserveNetworkRequest("appwrite", op, "store", start, err)
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("appwrite request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, err.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, err.Message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, err.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrValidation, err.Message)
	}
	if err.Type != "" {
		return fmt.Errorf("appwrite api error [%s]: status=%d message=%s", err.Type, status, err.Message)
	}
	return fmt.Errorf("appwrite api error: status=%d message=%s", status, err.Message)
}

// queryEqual строит JSON-запрос Appwrite equal(attribute, value).
func queryEqual(attribute string, value any) string {
	raw, _ := json.Marshal(map[string]any{"method": "equal", "attribute": attribute, "values": []any{value}})
	return string(raw)
}

func queryLimit(n int) string {
	raw, _ := json.Marshal(map[string]any{"method": "limit", "values": []int{n}})
	return string(raw)
}

func queryOrderDesc(attribute string) string {
	raw, _ := json.Marshal(map[string]any{"method": "orderDesc", "attribute": attribute})
	return string(raw)
}

// documentMeta — системные поля документа.
type documentMeta struct {
	ID        string    `json:"$id"`
	CreatedAt time.Time `json:"$createdAt"`
	UpdatedAt time.Time `json:"$updatedAt"`
}

type documentList[T any] struct {
	Total     int `json:"total"`
	Documents []T `json:"documents"`
}

func (c *Client) documentsPath(collection string) string {
	return "/databases/" + url.PathEscape(c.cfg.DatabaseID) + "/collections/" + url.PathEscape(collection) + "/documents"
}

func (c *Client) createDocument(ctx context.Context, collection, id string, data, out any) error {
	if id == "" {
		id = "unique()"
	}
	body := map[string]any{"documentId": id, "data": data}
	return c.call(ctx, "create_document", http.MethodPost, c.documentsPath(collection), nil, body, out, serverCreds)
}

func (c *Client) getDocument(ctx context.Context, collection, id string, out any) error {
	return c.call(ctx, "get_document", http.MethodGet, c.documentsPath(collection)+"/"+url.PathEscape(id), nil, nil, out, serverCreds)
}

func (c *Client) listDocuments(ctx context.Context, collection string, queries []string, out any) error {
	q := url.Values{}
	for _, item := range queries {
		q.Add("queries[]", item)
	}
	return c.call(ctx, "list_documents", http.MethodGet, c.documentsPath(collection), q, nil, out, serverCreds)
}

func (c *Client) updateDocument(ctx context.Context, collection, id string, data, out any) error {
	body := map[string]any{"data": data}
	return c.call(ctx, "update_document", http.MethodPatch, c.documentsPath(collection)+"/"+url.PathEscape(id), nil, body, out, serverCreds)
}

func (c *Client) deleteDocument(ctx context.Context, collection, id string) error {
	return c.call(ctx, "delete_document", http.MethodDelete, c.documentsPath(collection)+"/"+url.PathEscape(id), nil, nil, nil, serverCreds)
}
