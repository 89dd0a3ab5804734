// internal/media/media.go
// Package media ingests uploaded files into content-addressed object storage.
// Callers submit bytes with their declared content type and get back the public URL.
package media

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/metrics"
	"lukechampine.com/blake3"
)

// Field names an upload slot of a form.
type Field string

const (
	FieldThumbnail Field = "thumbnail"
	FieldAvatar    Field = "avatar"
	FieldVideo     Field = "video"
	FieldPDF       Field = "pdf"
)

// DefaultMaxSize is the per-file limit when none is configured.
const DefaultMaxSize int64 = 500 << 20

var images = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// allowedTypes maps each field to its accepted content types and the extension stored.
var allowedTypes = map[Field]map[string]string{
	FieldThumbnail: images,
	FieldAvatar:    images,
	FieldVideo: {
		"video/mp4":        ".mp4",
		"video/webm":       ".webm",
		"video/mkv":        ".mkv",
		"video/x-matroska": ".mkv",
	},
	FieldPDF: {
		"application/pdf": ".pdf",
	},
}

// Store persists an object under key and returns its public URL.
// Putting a key that already exists must succeed without duplicating it.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) (string, error)
}

// Ingestor validates uploads and writes them to a Store.
type Ingestor struct {
	store   Store
	maxSize int64
	metrics *metrics.Metrics
}

// NewIngestor creates an Ingestor. A non-positive maxSize selects DefaultMaxSize;
// m may be nil.
func NewIngestor(store Store, maxSize int64, m *metrics.Metrics) *Ingestor {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Ingestor{store: store, maxSize: maxSize, metrics: m}
}

// MaxSize returns the per-file limit in bytes.
func (i *Ingestor) MaxSize() int64 { return i.maxSize }

// Ingest stores body as field content and returns its URL.
// Parameters:
//   - ctx: Context of the request; the store write is detached from its cancellation
//   - field: Upload slot, which decides the accepted content types
//   - contentType: Declared content type of the part
//   - body: The file content; it is read twice (hash, then store)
//   - size: Declared size in bytes
//
// Returns:
//   - string: Public URL of the stored object
//   - error: CAT_MEDIA_TYPE, CAT_MEDIA_SIZE or a wrapped storage error
func (i *Ingestor) Ingest(ctx context.Context, field Field, contentType string, body io.ReadSeeker, size int64) (string, error) {
	url, err := i.ingest(ctx, field, contentType, body, size)
	if i.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			if e, ok := errordefs.As(err); ok {
				status = strings.ToLower(strings.TrimPrefix(string(e.Code), "CAT_"))
			}
		} else {
			i.metrics.MediaUploadBytes.WithLabelValues(string(field)).Add(float64(size))
		}
		i.metrics.MediaUploadTotal.WithLabelValues(string(field), status).Inc()
	}
	return url, err
}

func (i *Ingestor) ingest(ctx context.Context, field Field, contentType string, body io.ReadSeeker, size int64) (string, error) {
	ext, err := extensionFor(field, contentType)
	if err != nil {
		return "", err
	}
	if size > i.maxSize {
		return "", errordefs.New(errordefs.CAT_MEDIA_SIZE,
			fmt.Sprintf("%s exceeds the upload limit of %d bytes", field, i.maxSize), "")
	}

	h := blake3.New(32, nil)
	n, err := io.Copy(h, io.LimitReader(body, i.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("hash %s upload: %w", field, err)
	}
	if n > i.maxSize {
		return "", errordefs.New(errordefs.CAT_MEDIA_SIZE,
			fmt.Sprintf("%s exceeds the upload limit of %d bytes", field, i.maxSize), "")
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s upload: %w", field, err)
	}

	key := string(field) + "/" + hex.EncodeToString(h.Sum(nil)) + ext
	url, err := i.store.Put(context.WithoutCancel(ctx), key, canonicalType(contentType), body, n)
	if err != nil {
		return "", fmt.Errorf("store %s upload: %w", field, err)
	}
	return url, nil
}

// IngestFile ingests one multipart file part.
func (i *Ingestor) IngestFile(ctx context.Context, field Field, fh *multipart.FileHeader) (string, error) {
	if _, err := extensionFor(field, fh.Header.Get("Content-Type")); err != nil {
		return "", err
	}
	if fh.Size > i.maxSize {
		return "", errordefs.New(errordefs.CAT_MEDIA_SIZE,
			fmt.Sprintf("%s exceeds the upload limit of %d bytes", field, i.maxSize), "")
	}
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open %s upload: %w", field, err)
	}
	defer f.Close()
	return i.Ingest(ctx, field, fh.Header.Get("Content-Type"), f, fh.Size)
}

// Allowed reports whether contentType is accepted for field.
func Allowed(field Field, contentType string) bool {
	_, err := extensionFor(field, contentType)
	return err == nil
}

func extensionFor(field Field, contentType string) (string, error) {
	types, ok := allowedTypes[field]
	if !ok {
		return "", errordefs.New(errordefs.CAT_BAD_REQUEST, fmt.Sprintf("unknown upload field %q", field), "")
	}
	ext, ok := types[canonicalType(contentType)]
	if !ok {
		return "", errordefs.New(errordefs.CAT_MEDIA_TYPE,
			fmt.Sprintf("media type %q is not allowed for %s", contentType, field), "")
	}
	return ext, nil
}

// canonicalType strips parameters and lowercases a content type.
func canonicalType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Fallback writes to Primary and, when that fails, to Secondary.
type Fallback struct {
	Primary   Store
	Secondary Store
	OnFailure func(key string, err error) // Called before falling back; may be nil
}

// Put implements Store.
func (f Fallback) Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) (string, error) {
	url, err := f.Primary.Put(ctx, key, contentType, body, size)
	if err == nil {
		return url, nil
	}
	if f.OnFailure != nil {
		f.OnFailure(key, err)
	}
	if _, serr := body.Seek(0, io.SeekStart); serr != nil {
		return "", errors.Join(err, serr)
	}
	url, ferr := f.Secondary.Put(ctx, key, contentType, body, size)
	if ferr != nil {
		return "", errors.Join(err, ferr)
	}
	return url, nil
}
