package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"path/filepath"
	"sort"

	"github.com/gofiber/fiber/v2"

	"entity-api/internal/engine"
	"entity-api/internal/storage"
)

// ImageStore stores images under keys and serves them back.
type ImageStore interface {
	engine.ImageStore
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// RegisterUploads mounts the standalone upload endpoints used by rich editors
// and galleries, plus image retrieval by key.
func RegisterUploads(r fiber.Router, uc *uploadController) {
	r.Post("/upload/files", uc.files)
	r.Post("/upload/images", uc.storeImages)
	r.Post("/gallery", uc.storeImages)
	r.Get("/images/:key", uc.image)
}

type uploadController struct {
	uploader engine.Uploader
	images   ImageStore
}

// files stores every uploaded part and answers with their public URLs.
func (uc *uploadController) files(c *fiber.Ctx) error {
	parts, err := uploadedParts(c)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(parts))
	for _, fh := range parts {
		url, err := uc.uploader.Upload(c.UserContext(), storage.FromMultipart(fh))
		if err != nil {
			return uploadError(fh.Filename, err)
		}
		urls = append(urls, url)
	}
	return c.JSON(urls)
}

// storeImages stores every uploaded part as an image and answers with the keys.
func (uc *uploadController) storeImages(c *fiber.Ctx) error {
	parts, err := uploadedParts(c)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(parts))
	for _, fh := range parts {
		key, err := uc.images.Store(c.UserContext(), storage.FromMultipart(fh))
		if err != nil {
			return uploadError(fh.Filename, err)
		}
		keys = append(keys, key)
	}
	return c.JSON(keys)
}

func (uc *uploadController) image(c *fiber.Ctx) error {
	key := c.Params("key")
	rc, err := uc.images.Open(c.UserContext(), key)
	if err != nil {
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "Image not found: "+key)
	}
	c.Type(filepath.Ext(key))
	return c.SendStream(rc)
}

// uploadedParts lists every file part of a multipart body, ordered by part name.
func uploadedParts(c *fiber.Ctx) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, engine.InvalidPayloadError("Expected a multipart body with files")
	}
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)
	var parts []*multipart.FileHeader
	for _, name := range names {
		parts = append(parts, form.File[name]...)
	}
	return parts, nil
}

func uploadError(name string, err error) error {
	if errors.Is(err, storage.ErrBadSource) || errors.Is(err, storage.ErrNotImage) {
		return engine.BadUploadError(name, err)
	}
	return err
}
