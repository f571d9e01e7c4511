package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"stockdesk/internal/domain"
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(afero.NewMemMapFs(), "/files", "http://localhost:8080/")
	require.NoError(t, err)
	return s
}

func TestUploadDetectsMimeAndServes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	meta, err := s.UploadFile(ctx, domain.FileUpload{Name: "../avatar.png", Body: strings.NewReader(pngHeader)})
	require.NoError(t, err)
	require.Equal(t, "image/png", meta.MimeType)
	require.Equal(t, "avatar.png", meta.Name)
	require.Equal(t, int64(len(pngHeader)), meta.Size)

	got, err := s.GetFile(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, meta.ID, got.ID)

	link, err := s.FileViewURL(ctx, meta.ID)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/api/v1/files/"+meta.ID+"/view", link)

	rc, _, err := s.Open(ctx, meta.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, pngHeader, string(body))
}

func TestDeleteFile(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	meta, err := s.UploadFile(ctx, domain.FileUpload{Name: "a.txt", Body: strings.NewReader("hello")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, meta.ID))
	_, err = s.GetFile(ctx, meta.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.DeleteFile(ctx, meta.ID), domain.ErrNotFound)
}

func TestRejectsForeignIDs(t *testing.T) {
	s := newStore(t)
	_, err := s.GetFile(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.FileViewURL(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
