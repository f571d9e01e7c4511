package appwrite

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
)

// fakeAppwrite — минимальная in-memory реализация используемых эндпоинтов.
type fakeAppwrite struct {
	mu        sync.Mutex
	docs      map[string]map[string]map[string]any
	files     map[string][]byte
	seq       int
	keyHits   int
	lastQuery []string
}

func newFakeAppwrite(t *testing.T) (*fakeAppwrite, *Client) {
	t.Helper()
	f := &fakeAppwrite{docs: map[string]map[string]map[string]any{}, files: map[string][]byte{}}
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/databases/{db}/collections/{col}/documents", f.createDocument)
		r.Get("/databases/{db}/collections/{col}/documents", f.listDocuments)
		r.Get("/databases/{db}/collections/{col}/documents/{id}", f.getDocument)
		r.Patch("/databases/{db}/collections/{col}/documents/{id}", f.updateDocument)
		r.Delete("/databases/{db}/collections/{col}/documents/{id}", f.deleteDocument)
		r.Post("/storage/buckets/{bucket}/files", f.createFile)
		r.Get("/storage/buckets/{bucket}/files/{id}", f.getFile)
		r.Get("/storage/buckets/{bucket}/files/{id}/download", f.downloadFile)
		r.Post("/account", f.register)
		r.Post("/account/sessions/email", f.login)
		r.Get("/account", f.account)
		r.Delete("/account/sessions/current", f.logout)
	})
	srv := httptest.NewServer(f.checkProject(r))
	t.Cleanup(srv.Close)

	c := New(Config{
		Endpoint:             srv.URL + "/v1",
		ProjectID:            "proj",
		APIKey:               "key",
		DatabaseID:           "db",
		CollectionArticles:   "articles",
		CollectionProfiles:   "users",
		CollectionWatchLists: "watchlist",
		BucketID:             "bucket",
	})
	return f, c
}

func (f *fakeAppwrite) checkProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-Project") != "proj" {
			writeErr(w, http.StatusBadRequest, "project missing")
			return
		}
		if r.Header.Get("X-Appwrite-Key") == "key" {
			f.mu.Lock()
			f.keyHits++
			f.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg, "code": status, "type": "general"})
}

func writeDoc(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAppwrite) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

func (f *fakeAppwrite) collection(r *http.Request) map[string]map[string]any {
	col := chi.URLParam(r, "col")
	if f.docs[col] == nil {
		f.docs[col] = map[string]map[string]any{}
	}
	return f.docs[col]
}

func (f *fakeAppwrite) createDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID string         `json:"documentId"`
		Data       map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collection(r)
	id := body.DocumentID
	if id == "unique()" {
		id = f.nextID("doc")
	}
	if _, ok := col[id]; ok {
		writeErr(w, http.StatusConflict, "Document with the requested ID already exists.")
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	doc := map[string]any{"$id": id, "$createdAt": now, "$updatedAt": now}
	for k, v := range body.Data {
		doc[k] = v
	}
	col[id] = doc
	writeDoc(w, http.StatusCreated, doc)
}

func (f *fakeAppwrite) getDocument(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.collection(r)[chi.URLParam(r, "id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "Document with the requested ID could not be found.")
		return
	}
	writeDoc(w, http.StatusOK, doc)
}

func (f *fakeAppwrite) listDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queries := r.URL.Query()["queries[]"]
	f.lastQuery = queries
	type equal struct {
		Method    string `json:"method"`
		Attribute string `json:"attribute"`
		Values    []any  `json:"values"`
	}
	var filters []equal
	for _, raw := range queries {
		var q equal
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			writeErr(w, http.StatusBadRequest, "bad query")
			return
		}
		if q.Method == "equal" {
			filters = append(filters, q)
		}
	}
	docs := []map[string]any{}
	for _, doc := range f.collection(r) {
		match := true
		for _, flt := range filters {
			if len(flt.Values) == 0 || doc[flt.Attribute] != flt.Values[0] {
				match = false
			}
		}
		if match {
			docs = append(docs, doc)
		}
	}
	writeDoc(w, http.StatusOK, map[string]any{"total": len(docs), "documents": docs})
}

func (f *fakeAppwrite) updateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.collection(r)[chi.URLParam(r, "id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	for k, v := range body.Data {
		doc[k] = v
	}
	doc["$updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	writeDoc(w, http.StatusOK, doc)
}

func (f *fakeAppwrite) deleteDocument(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collection(r)
	id := chi.URLParam(r, "id")
	if _, ok := col[id]; !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	delete(col, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeAppwrite) createFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("file")
	f.files[id] = data
	writeDoc(w, http.StatusCreated, map[string]any{
		"$id": id, "bucketId": chi.URLParam(r, "bucket"), "name": header.Filename,
		"mimeType": "text/plain", "sizeOriginal": len(data),
		"$createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (f *fakeAppwrite) getFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	data, ok := f.files[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "file not found")
		return
	}
	writeDoc(w, http.StatusOK, map[string]any{"$id": id, "bucketId": chi.URLParam(r, "bucket"), "sizeOriginal": len(data)})
}

func (f *fakeAppwrite) downloadFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, ok := f.files[chi.URLParam(r, "id")]
	f.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "file not found")
		return
	}
	_, _ = w.Write(data)
}

func (f *fakeAppwrite) register(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeDoc(w, http.StatusCreated, map[string]any{"$id": "user-1", "email": body["email"], "name": body["name"]})
}

func (f *fakeAppwrite) login(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["password"] != "correct-horse" {
		writeErr(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	secret := ""
	if r.Header.Get("X-Appwrite-Key") != "" {
		secret = "secret-1"
	}
	writeDoc(w, http.StatusCreated, map[string]any{
		"$id": "sess-1", "userId": "user-1", "secret": secret,
		"expire": time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano),
	})
}

func (f *fakeAppwrite) account(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Appwrite-Session") != "secret-1" {
		writeErr(w, http.StatusUnauthorized, "User (role: guests) missing scope (account)")
		return
	}
	writeDoc(w, http.StatusOK, map[string]any{"$id": "user-1", "email": "a@b.c", "name": "Ann"})
}

func (f *fakeAppwrite) logout(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Appwrite-Session") == "" {
		writeErr(w, http.StatusUnauthorized, "no session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
