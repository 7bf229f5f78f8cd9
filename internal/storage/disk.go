// Package storage - хранилище изображений, прикладываемых к предложениям.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/creachadair/atomicfile"
	"github.com/google/uuid"
)

// DefaultMaxBytes - максимальный размер одного изображения по умолчанию.
const DefaultMaxBytes = 5 << 20

var extensionByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var unsafeOwnerChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ObjectStore принимает бинарные данные и возвращает непрозрачную ссылку на них.
type ObjectStore interface {
	Put(ctx context.Context, owner string, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Disk - ObjectStore в каталоге локальной файловой системы.
type Disk struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewDisk создает каталог хранилища при необходимости.
func NewDisk(dir, baseURL string, maxBytes int64) (*Disk, error) {
	if dir == "" {
		return nil, fmt.Errorf("object store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create object store directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Disk{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

// Put проверяет тип и размер изображения и атомарно записывает его на диск.
func (d *Disk) Put(ctx context.Context, owner string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.NewValidationError("image is empty")
	}
	if int64(len(data)) > d.maxBytes {
		return "", models.NewValidationError("image exceeds %d bytes", d.maxBytes)
	}
	contentType := http.DetectContentType(data)
	ext, ok := extensionByMime[contentType]
	if !ok {
		return "", models.NewValidationError("unsupported image type %s", contentType)
	}
	if err := ctx.Err(); err != nil {
		return "", models.NewStorageError(err)
	}

	owner = unsafeOwnerChars.ReplaceAllString(owner, "_")
	if owner == "" {
		owner = "anonymous"
	}
	name := uuid.NewString() + ext
	ownerDir := filepath.Join(d.dir, owner)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return "", models.NewStorageError(err)
	}
	if _, err := atomicfile.WriteAll(filepath.Join(ownerDir, name), bytes.NewReader(data), 0o644); err != nil {
		return "", models.NewStorageError(err)
	}
	return d.baseURL + "/" + owner + "/" + name, nil
}

// Delete удаляет объект по ссылке; отсутствующий объект не считается ошибкой.
func (d *Disk) Delete(_ context.Context, ref string) error {
	path, err := d.pathOf(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return models.NewStorageError(err)
	}
	return nil
}

func (d *Disk) pathOf(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, d.baseURL+"/")
	if !ok {
		return "", models.NewValidationError("reference %q does not belong to this store", ref)
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(rel, "..") {
		return "", models.NewValidationError("malformed reference %q", ref)
	}
	return filepath.Join(d.dir, parts[0], parts[1]), nil
}

// Handler отдает сохраненные объекты по пути относительно baseURL.
func (d *Disk) Handler() http.Handler {
	return http.FileServer(http.Dir(d.dir))
}
