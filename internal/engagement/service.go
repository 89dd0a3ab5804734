// internal/engagement/service.go
// Package engagement implements favorites and comments on works.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
)

// MaxCommentLength is the longest accepted comment, in characters, after trimming.
const MaxCommentLength = 1000

// Service is the engagement use-case layer over a Store.
type Service struct {
	store    storage.Store
	activity *event.Recorder
}

// NewService creates an engagement Service.
func NewService(store storage.Store, activity *event.Recorder) *Service {
	return &Service{store: store, activity: activity}
}

// FavoriteState is the result of a toggle or status check.
type FavoriteState struct {
	IsFavorited bool `json:"isFavorited"`
}

// WorkList is a page of favorited works.
type WorkList struct {
	Works      []model.Work     `json:"works"`
	Pagination model.Pagination `json:"pagination"`
}

// CommentList is a page of comments, newest first.
type CommentList struct {
	Comments   []model.Comment  `json:"comments"`
	Pagination model.Pagination `json:"pagination"`
}

// ToggleFavorite adds the work to actor's favorites, or removes it when present.
func (s *Service) ToggleFavorite(ctx context.Context, actor model.Account, workID int64) (*FavoriteState, error) {
	added, err := s.store.ToggleFavorite(ctx, actor.ID, workID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("work not found")
		}
		return nil, fmt.Errorf("toggle favorite: %w", err)
	}

	action, desc := "removed", "%s removed work %d from favorites"
	if added {
		action, desc = "added", "%s added work %d to favorites"
	}
	s.activity.Record(ctx, model.ActivityFavoriteChanged,
		fmt.Sprintf(desc, actor.Username, workID),
		actor.ID, map[string]interface{}{"workId": workID, "action": action})
	return &FavoriteState{IsFavorited: added}, nil
}

// FavoriteStatus reports whether actor has favorited the work.
func (s *Service) FavoriteStatus(ctx context.Context, actor model.Account, workID int64) (*FavoriteState, error) {
	if _, err := s.store.GetWork(ctx, workID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("work not found")
		}
		return nil, fmt.Errorf("get work: %w", err)
	}
	ok, err := s.store.IsFavorite(ctx, actor.ID, workID)
	if err != nil {
		return nil, fmt.Errorf("favorite status: %w", err)
	}
	return &FavoriteState{IsFavorited: ok}, nil
}

// Favorites lists the works accountID favorited, most recently favorited first.
func (s *Service) Favorites(ctx context.Context, accountID int64, page model.Page) (*WorkList, error) {
	page = page.Normalize()
	works, total, err := s.store.ListFavorites(ctx, accountID, page)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return &WorkList{Works: works, Pagination: model.Paginate(page, total)}, nil
}

// AddComment stores a comment by actor. The text is trimmed and must hold
// between 1 and MaxCommentLength characters.
func (s *Service) AddComment(ctx context.Context, actor model.Account, workID int64, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errordefs.Validation("comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, errordefs.Validation("comment must be at most %d characters", MaxCommentLength)
	}

	c := &model.Comment{WorkID: workID, AccountID: actor.ID, Text: text}
	if err := s.store.CreateComment(ctx, c); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("work not found")
		}
		return nil, fmt.Errorf("create comment: %w", err)
	}

	s.activity.Record(ctx, model.ActivityCommentAdded,
		fmt.Sprintf("%s commented on work %d", actor.Username, workID),
		actor.ID, map[string]interface{}{"workId": workID, "commentId": c.ID})
	return c, nil
}

// Comments lists a work's comments, newest first.
func (s *Service) Comments(ctx context.Context, workID int64, page model.Page) (*CommentList, error) {
	if page.Size < 1 {
		page.Size = model.DefaultCommentPageSize
	}
	page = page.Normalize()
	comments, total, err := s.store.ListComments(ctx, workID, page)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("work not found")
		}
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return &CommentList{Comments: comments, Pagination: model.Paginate(page, total)}, nil
}
