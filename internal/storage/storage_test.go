package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type brokenFile struct{}

func (brokenFile) Filename() string             { return "broken.png" }
func (brokenFile) Size() int64                  { return 10 }
func (brokenFile) Open() (io.ReadCloser, error) { return nil, errors.New("gone") }

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir())

	p, err := s.Save(ctx, "a/b", "hello.txt", strings.NewReader("hi"))
	require.NoError(t, err)
	assert.Equal(t, "a/b/hello.txt", p)

	rc, err := s.Open(ctx, p)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hi", string(data))

	require.NoError(t, s.Delete(ctx, p))
	require.NoError(t, s.Delete(ctx, p), "deleting twice is not an error")

	_, err = s.Open(ctx, "../etc/passwd")
	assert.Error(t, err)
}

func TestUploaderReturnsPublicURL(t *testing.T) {
	root := t.TempDir()
	u := NewUploader(NewLocalStorage(root), "/storage/uploads/", 0)

	url, err := u.Upload(context.Background(), BytesFile{Name: "Report.PDF", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/storage/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".pdf"), url)

	rel := strings.TrimPrefix(url, "/storage/uploads/")
	_, err = os.Stat(filepath.Join(root, rel))
	assert.NoError(t, err)
}

func TestUploaderBadSource(t *testing.T) {
	u := NewUploader(NewLocalStorage(t.TempDir()), "/u", 0)
	_, err := u.Upload(context.Background(), brokenFile{})
	assert.ErrorIs(t, err, ErrBadSource)

	small := NewUploader(NewLocalStorage(t.TempDir()), "/u", 2)
	_, err = small.Upload(context.Background(), BytesFile{Name: "a.txt", Data: []byte("too long")})
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestImageStore(t *testing.T) {
	ctx := context.Background()
	s := NewImageStore(NewLocalStorage(t.TempDir()), 0)

	key, err := s.Store(ctx, BytesFile{Name: "cover.png", Data: pngHeader})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".png"), key)

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, pngHeader, data)

	_, err = s.Store(ctx, BytesFile{Name: "notes.png", Data: []byte("plain text")})
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = s.Store(ctx, brokenFile{})
	assert.ErrorIs(t, err, ErrBadSource)
}

func TestDetectImage(t *testing.T) {
	ok, err := DetectImage(BytesFile{Name: "x", Data: pngHeader})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = DetectImage(BytesFile{Name: "x", Data: []byte("hello")})
	require.NoError(t, err)
	assert.False(t, ok)
}
