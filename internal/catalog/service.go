// internal/catalog/service.go
// Package catalog implements browsing of works and episodes and their
// administration: listing, search, detail retrieval with view counting,
// and create/update/delete of works and episodes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/metrics"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
)

// DetailComments is the number of recent comments embedded in a work detail.
const DetailComments = 10

// Service is the catalog use-case layer over a Store.
type Service struct {
	store    storage.Store
	activity *event.Recorder
	metrics  *metrics.Metrics
}

// NewService creates a catalog Service. m may be nil.
func NewService(store storage.Store, activity *event.Recorder, m *metrics.Metrics) *Service {
	return &Service{store: store, activity: activity, metrics: m}
}

// Filter holds the raw listing filters. Values that do not parse are ignored.
type Filter struct {
	Kind     string
	Category string
	Search   string
}

// WorkList is a page of works with its pagination metadata.
type WorkList struct {
	Works      []model.Work     `json:"works"`
	Pagination model.Pagination `json:"pagination"`
}

// List returns works newest first.
func (s *Service) List(ctx context.Context, f Filter, page model.Page) (*WorkList, error) {
	return s.list(ctx, f, 0, model.OrderRecent, page)
}

// Search returns works ordered by views, then newest first.
func (s *Service) Search(ctx context.Context, f Filter, page model.Page) (*WorkList, error) {
	return s.list(ctx, f, 0, model.OrderPopularity, page)
}

// Uploads returns the works created by accountID, newest first.
func (s *Service) Uploads(ctx context.Context, accountID int64, page model.Page) (*WorkList, error) {
	return s.list(ctx, Filter{}, accountID, model.OrderRecent, page)
}

func (s *Service) list(ctx context.Context, f Filter, createdBy int64, order model.WorkOrder, page model.Page) (*WorkList, error) {
	q := model.WorkQuery{
		Category:  strings.TrimSpace(f.Category),
		Search:    strings.TrimSpace(f.Search),
		CreatedBy: createdBy,
		Order:     order,
		Page:      page.Normalize(),
	}
	if kind, ok := model.ParseKind(f.Kind); ok {
		q.Kind = kind
	}

	works, total, err := s.store.ListWorks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	return &WorkList{Works: works, Pagination: model.Paginate(q.Page, total)}, nil
}

// Get counts one view of the work and returns it with its creator and most
// recent comments. Every call increments the counter.
func (s *Service) Get(ctx context.Context, id int64) (*model.Work, error) {
	if _, err := s.store.IncrementViews(ctx, id); err != nil {
		return nil, workErr(err, "increment views")
	}
	if s.metrics != nil {
		s.metrics.WorkViewsTotal.Inc()
	}

	w, err := s.store.GetWork(ctx, id)
	if err != nil {
		return nil, workErr(err, "get work")
	}
	comments, _, err := s.store.ListComments(ctx, id, model.Page{Number: 1, Size: DetailComments})
	if err != nil {
		return nil, workErr(err, "list comments")
	}
	w.RecentComments = comments
	return w, nil
}

// Episodes returns the work's episodes in reading/watching order.
func (s *Service) Episodes(ctx context.Context, workID int64) ([]model.Episode, error) {
	eps, err := s.store.ListEpisodes(ctx, workID)
	if err != nil {
		return nil, workErr(err, "list episodes")
	}
	return eps, nil
}

// workErr maps a missing work to CAT_NOT_FOUND and wraps anything else.
func workErr(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errordefs.NotFound("work not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}
