package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Uploader stores plain files and returns their public URL.
type Uploader struct {
	files      FileStorage
	publicPath string
	maxBytes   int64
}

func NewUploader(files FileStorage, publicPath string, maxBytes int64) *Uploader {
	return &Uploader{files: files, publicPath: strings.TrimRight(publicPath, "/"), maxBytes: maxBytes}
}

// Upload saves f under a date directory with a ULID name that keeps the original extension.
func (u *Uploader) Upload(ctx context.Context, f File) (string, error) {
	if u.maxBytes > 0 && f.Size() > u.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrBadSource, f.Filename(), u.maxBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	defer rc.Close()

	now := time.Now().UTC()
	name := strings.ToLower(ulid.Make().String()) + strings.ToLower(filepath.Ext(f.Filename()))
	stored, err := u.files.Save(ctx, now.Format("2006/01"), name, rc)
	if err != nil {
		return "", err
	}
	return u.publicPath + "/" + path.Clean(stored), nil
}

// ImageStore keeps images under opaque UUID keys.
type ImageStore struct {
	files    FileStorage
	maxBytes int64
}

func NewImageStore(files FileStorage, maxBytes int64) *ImageStore {
	return &ImageStore{files: files, maxBytes: maxBytes}
}

// Store sniffs the content, rejects anything that is not an image and returns the new key.
func (s *ImageStore) Store(ctx context.Context, f File) (string, error) {
	data, err := readAll(f, s.maxBytes)
	if err != nil {
		return "", err
	}
	mt := mimetype.Detect(data)
	if !IsImage(mt) {
		return "", fmt.Errorf("%w: %s is %s", ErrNotImage, f.Filename(), mt.String())
	}
	key := uuid.NewString() + mt.Extension()
	if _, err := s.files.Save(ctx, key[:2], key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

func (s *ImageStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if len(key) < 3 {
		return nil, fmt.Errorf("invalid image key %q", key)
	}
	return s.files.Open(ctx, key[:2]+"/"+key)
}

// IsImage reports whether mt or one of its parents is an image type.
func IsImage(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

// DetectImage reads f and reports whether its content is an image.
func DetectImage(f File) (bool, error) {
	rc, err := f.Open()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	defer rc.Close()
	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	return IsImage(mt), nil
}

func readAll(f File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBadSource, f.Filename(), limit)
	}
	return data, nil
}
