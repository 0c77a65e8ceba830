package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
)

var (
	// ErrBadSource means the uploaded stream could not be read.
	ErrBadSource = errors.New("upload source is not readable")
	ErrNotImage  = errors.New("upload is not an image")
)

// FileStorage abstracts file persistence. Local-disk today, S3 later.
type FileStorage interface {
	// Save persists content under dir/name and returns the storage path relative to the root.
	Save(ctx context.Context, dir, name string, reader io.Reader) (storagePath string, err error)
	// Open returns a reader for the stored file.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	// Delete removes the file from storage.
	Delete(ctx context.Context, storagePath string) error
}

// File is one uploaded part as seen by the upload capabilities.
type File interface {
	Filename() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type multipartFile struct {
	fh *multipart.FileHeader
}

// FromMultipart adapts a parsed multipart part.
func FromMultipart(fh *multipart.FileHeader) File {
	return multipartFile{fh: fh}
}

func (f multipartFile) Filename() string { return f.fh.Filename }
func (f multipartFile) Size() int64      { return f.fh.Size }

func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.fh.Open()
}

// BytesFile is an in-memory File, handy for programmatic uploads.
type BytesFile struct {
	Name string
	Data []byte
}

func (f BytesFile) Filename() string { return f.Name }
func (f BytesFile) Size() int64      { return int64(len(f.Data)) }

func (f BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}
