// internal/model/catalog.go
// Package model defines the data structures used throughout the catalog service.
// These structures represent the core domain objects for accounts, works, episodes,
// comments, favorites and the activity log.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates which media reference a Work or Episode carries.
type Kind string

const (
	KindVideo Kind = "video" // Streamed video content
	KindNovel Kind = "novel" // PDF document content
)

// ParseKind normalizes s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindVideo:
		return KindVideo, true
	case KindNovel:
		return KindNovel, true
	}
	return "", false
}

// Media is the kind-specific media reference of a Work or Episode.
// The only implementations are Video and Document, so a value always
// carries exactly one reference that agrees with its kind.
type Media interface {
	Kind() Kind
	URL() string
	isMedia()
}

// Video references a streamable video asset.
type Video struct{ Ref string }

// Document references a PDF asset.
type Document struct{ Ref string }

func (Video) Kind() Kind       { return KindVideo }
func (v Video) URL() string    { return v.Ref }
func (Video) isMedia()         {}
func (Document) Kind() Kind    { return KindNovel }
func (d Document) URL() string { return d.Ref }
func (Document) isMedia()      {}

// NewMedia builds the media variant for kind from the supplied references.
// The reference matching kind must be present; the other one is ignored.
func NewMedia(kind Kind, videoURL, pdfURL string) (Media, error) {
	switch kind {
	case KindVideo:
		if strings.TrimSpace(videoURL) == "" {
			return nil, fmt.Errorf("video file is required for kind %q", kind)
		}
		return Video{Ref: videoURL}, nil
	case KindNovel:
		if strings.TrimSpace(pdfURL) == "" {
			return nil, fmt.Errorf("pdf file is required for kind %q", kind)
		}
		return Document{Ref: pdfURL}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// MediaColumns splits m into the (video_url, pdf_url) pair used by the SQL stores.
func MediaColumns(m Media) (videoURL, pdfURL *string) {
	if m == nil {
		return nil, nil
	}
	ref := m.URL()
	switch m.(type) {
	case Video:
		return &ref, nil
	case Document:
		return nil, &ref
	}
	return nil, nil
}

// MediaFromColumns is the inverse of MediaColumns.
func MediaFromColumns(kind string, videoURL, pdfURL *string) (Media, error) {
	k, ok := ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return NewMedia(k, deref(videoURL), deref(pdfURL))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mediaJSON is the flattened media shape consumed by the presentation layer.
type mediaJSON struct {
	Type     Kind    `json:"type"`
	VideoURL *string `json:"videoUrl"`
	PDFURL   *string `json:"pdfUrl"`
}

func flattenMedia(m Media) mediaJSON {
	out := mediaJSON{}
	if m == nil {
		return out
	}
	out.Type = m.Kind()
	out.VideoURL, out.PDFURL = MediaColumns(m)
	return out
}

// AccountSummary is the creator/commenter projection embedded in read responses.
type AccountSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Work is a catalog entry: a video series or a novel.
// This corresponds to the works table in storage.
type Work struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Media          Media           `json:"-"`
	Category       string          `json:"category"`
	ThumbnailURL   string          `json:"thumbnail,omitempty"`
	Rating         float64         `json:"rating"`
	Views          int64           `json:"views"`
	CreatedBy      int64           `json:"createdBy"`
	Creator        *AccountSummary `json:"creator,omitempty"`
	RecentComments []Comment       `json:"comments,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Kind returns the kind of the work's media.
func (w Work) Kind() Kind {
	if w.Media == nil {
		return ""
	}
	return w.Media.Kind()
}

// MarshalJSON flattens Media into type/videoUrl/pdfUrl.
func (w Work) MarshalJSON() ([]byte, error) {
	type alias Work
	return json.Marshal(struct {
		alias
		mediaJSON
	}{alias(w), flattenMedia(w.Media)})
}

// Episode is an ordered sub-unit of a Work with its own media.
type Episode struct {
	ID        int64     `json:"id"`
	WorkID    int64     `json:"workId"`
	Title     string    `json:"title"`
	Number    int       `json:"episodeNumber"`
	Media     Media     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MarshalJSON flattens Media into type/videoUrl/pdfUrl.
func (e Episode) MarshalJSON() ([]byte, error) {
	type alias Episode
	return json.Marshal(struct {
		alias
		mediaJSON
	}{alias(e), flattenMedia(e.Media)})
}

// Comment is an immutable remark on a Work.
type Comment struct {
	ID        int64           `json:"id"`
	WorkID    int64           `json:"workId"`
	AccountID int64           `json:"userId"`
	Text      string          `json:"text"`
	Author    *AccountSummary `json:"user,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Favorite is the (account, work) bookmark; at most one per pair.
type Favorite struct {
	AccountID int64     `json:"userId"`
	WorkID    int64     `json:"workId"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkPatch carries the fields of a partial work update. Nil fields are left untouched.
type WorkPatch struct {
	Title        *string
	Description  *string
	Category     *string
	ThumbnailURL *string
	Rating       *float64
	Media        Media
}

// EpisodePatch carries the fields of a partial episode update.
type EpisodePatch struct {
	Title  *string
	Number *int
	Media  Media
}
