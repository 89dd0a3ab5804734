// internal/server/payload.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/requestid"
)

const (
	maxJSONBody     = 1 << 20  // JSON payloads
	multipartMemory = 32 << 20 // Parts above this spill to temp files
	formOverhead    = 1 << 20  // Text fields of a multipart form
	uploadFields    = 3        // At most thumbnail, video and pdf in one form
)

// payload is a decoded request body: form text fields or JSON scalars as
// strings, plus any multipart files.
type payload struct {
	values map[string]interface{}
	files  map[string][]*multipart.FileHeader
	form   *multipart.Form
}

// close removes the temp files of a multipart form.
func (p *payload) close() {
	if p.form != nil {
		_ = p.form.RemoveAll()
	}
}

// str returns the trimmed value of key, or nil when the key is absent.
func (p *payload) str(key string) *string {
	v, ok := p.values[key].(string)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	return &v
}

// text returns the value of key, or "" when absent.
func (p *payload) text(key string) string {
	if v := p.str(key); v != nil {
		return *v
	}
	return ""
}

func (p *payload) file(key string) *multipart.FileHeader {
	if fhs := p.files[key]; len(fhs) > 0 {
		return fhs[0]
	}
	return nil
}

// readPayload decodes a multipart, urlencoded or JSON body and validates
// it against the named schema.
func (m *Mux) readPayload(w http.ResponseWriter, r *http.Request, schemaName string) (*payload, error) {
	p := &payload{values: map[string]interface{}{}}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch ct {
	case "multipart/form-data":
		limit := formOverhead + uploadFields*media.DefaultMaxSize
		if m.ingestor != nil {
			limit = formOverhead + uploadFields*m.ingestor.MaxSize()
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, bodyErr(err)
		}
		p.form = r.MultipartForm
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				p.values[k] = vs[0]
			}
		}
		p.files = r.MultipartForm.File
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			return nil, bodyErr(err)
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				p.values[k] = vs[0]
			}
		}
	default:
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err != nil {
			return nil, bodyErr(err)
		}
		if len(strings.TrimSpace(string(raw))) > 0 {
			var decoded map[string]interface{}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, errordefs.New(errordefs.CAT_BAD_REQUEST, "invalid JSON", "")
			}
			for k, v := range decoded {
				if s, ok := scalar(v); ok {
					p.values[k] = s
				}
			}
		}
	}

	if err := m.validate(schemaName, p.values); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// decodeJSON validates a JSON body against the named schema and decodes it into dst.
func (m *Mux) decodeJSON(w http.ResponseWriter, r *http.Request, schemaName string, dst interface{}) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return bodyErr(err)
	}
	err = m.validator.Decode(schemaName, raw, dst)
	m.countValidation(schemaName, err)
	return err
}

func (m *Mux) validate(schemaName string, values map[string]interface{}) error {
	err := m.validator.Validate(schemaName, values)
	m.countValidation(schemaName, err)
	return err
}

func (m *Mux) countValidation(schemaName string, err error) {
	status := "valid"
	if err != nil {
		status = "invalid"
	}
	m.metrics.SchemaValidationTotal.WithLabelValues(schemaName, status).Inc()
}

// scalar renders JSON scalars as the strings a form would carry.
func scalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func bodyErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errordefs.New(errordefs.CAT_MEDIA_SIZE, "request body too large", "")
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errordefs.New(errordefs.CAT_TIMEOUT, "request body not received in time", "")
	}
	return errordefs.New(errordefs.CAT_BAD_REQUEST, "malformed request body", "")
}

// mediaRef returns the URL for an upload slot: the ingested file when one was
// sent under field, else the reference given in textKey, else "".
func (m *Mux) mediaRef(ctx context.Context, p *payload, field media.Field, textKey string) (string, error) {
	if fh := p.file(string(field)); fh != nil {
		if m.ingestor == nil {
			return "", errordefs.New(errordefs.CAT_UNAVAILABLE, "uploads are not configured", "")
		}
		return m.ingestor.IngestFile(ctx, field, fh)
	}
	return p.text(textKey), nil
}

// optionalMediaRef is mediaRef for partial updates: nil means untouched.
func (m *Mux) optionalMediaRef(ctx context.Context, p *payload, field media.Field, textKey string) (*string, error) {
	if p.file(string(field)) == nil && p.str(textKey) == nil {
		return nil, nil
	}
	v, err := m.mediaRef(ctx, p, field, textKey)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// pathID parses the {id} wildcard.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errordefs.New(errordefs.CAT_BAD_REQUEST, "invalid id", requestid.From(r.Context()))
	}
	return id, nil
}

// pageOf reads the page and limit query parameters.
func pageOf(r *http.Request, defaultSize int) model.Page {
	q := r.URL.Query()
	return model.NewPage(q.Get("page"), q.Get("limit"), defaultSize)
}

// parseRating converts a validated rating field.
func parseRating(raw *string) (*float64, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return nil, errordefs.Validation("rating must be a number")
	}
	return &v, nil
}

// parseNumber converts a validated episode number field.
func parseNumber(raw *string) (*int, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(*raw)
	if err != nil {
		return nil, errordefs.Validation("episode number must be a positive integer")
	}
	return &v, nil
}
