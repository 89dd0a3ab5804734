// internal/catalog/admin.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
)

// Field limits for works and episodes.
const (
	MaxTitleLength    = 200
	MaxCategoryLength = 100
	MaxRating         = 10
)

// MediaInput carries the references of media stored for this mutation.
// Empty strings mean no new file of that type was submitted.
type MediaInput struct {
	VideoURL string
	PDFURL   string
}

// WorkInput is the payload of CreateWork.
type WorkInput struct {
	Title        string
	Description  string
	Kind         string
	Category     string
	ThumbnailURL string
	Rating       *float64
	Media        MediaInput
}

// WorkUpdate is the payload of UpdateWork; nil fields are left unchanged.
type WorkUpdate struct {
	Title        *string
	Description  *string
	Kind         *string
	Category     *string
	ThumbnailURL *string
	Rating       *float64
	Media        MediaInput
}

// EpisodeInput is the payload of CreateEpisode.
type EpisodeInput struct {
	Title  string
	Number int
	Kind   string
	Media  MediaInput
}

// EpisodeUpdate is the payload of UpdateEpisode; nil fields are left unchanged.
type EpisodeUpdate struct {
	Title  *string
	Number *int
	Kind   *string
	Media  MediaInput
}

// CreateWork validates and stores a new work created by actor.
func (s *Service) CreateWork(ctx context.Context, actor model.Account, in WorkInput) (*model.Work, error) {
	title, err := requiredText("title", in.Title, MaxTitleLength)
	if err != nil {
		return nil, err
	}
	description, err := requiredText("description", in.Description, 0)
	if err != nil {
		return nil, err
	}
	category, err := requiredText("category", in.Category, MaxCategoryLength)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Kind) == "" {
		return nil, errordefs.Validation("type is required")
	}
	media, err := resolveMedia(nil, &in.Kind, in.Media)
	if err != nil {
		return nil, err
	}
	w := &model.Work{
		Title:        title,
		Description:  description,
		Media:        media,
		Category:     category,
		ThumbnailURL: strings.TrimSpace(in.ThumbnailURL),
		CreatedBy:    actor.ID,
	}
	if in.Rating != nil {
		if err := checkRating(*in.Rating); err != nil {
			return nil, err
		}
		w.Rating = *in.Rating
	}

	if err := s.store.CreateWork(ctx, w); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("account not found")
		}
		return nil, fmt.Errorf("create work: %w", err)
	}
	w.Creator = actor.Summary()

	s.activity.Record(ctx, model.ActivityWorkUploaded,
		fmt.Sprintf("New %s %q uploaded by %s", w.Kind(), w.Title, actor.Username),
		actor.ID, map[string]interface{}{"workId": w.ID, "workTitle": w.Title})
	return w, nil
}

// UpdateWork applies a partial update. Switching the kind requires the new
// kind's media in the same request; new media of the current kind replaces the old reference.
func (s *Service) UpdateWork(ctx context.Context, id int64, in WorkUpdate) (*model.Work, error) {
	current, err := s.store.GetWork(ctx, id)
	if err != nil {
		return nil, workErr(err, "get work")
	}

	var patch model.WorkPatch
	if in.Title != nil {
		v, err := requiredText("title", *in.Title, MaxTitleLength)
		if err != nil {
			return nil, err
		}
		patch.Title = &v
	}
	if in.Description != nil {
		v, err := requiredText("description", *in.Description, 0)
		if err != nil {
			return nil, err
		}
		patch.Description = &v
	}
	if in.Category != nil {
		v, err := requiredText("category", *in.Category, MaxCategoryLength)
		if err != nil {
			return nil, err
		}
		patch.Category = &v
	}
	if in.ThumbnailURL != nil {
		v := strings.TrimSpace(*in.ThumbnailURL)
		patch.ThumbnailURL = &v
	}
	if in.Rating != nil {
		if err := checkRating(*in.Rating); err != nil {
			return nil, err
		}
		patch.Rating = in.Rating
	}
	if patch.Media, err = resolveMedia(current.Media, in.Kind, in.Media); err != nil {
		return nil, err
	}

	w, err := s.store.UpdateWork(ctx, id, patch)
	if err != nil {
		return nil, workErr(err, "update work")
	}
	return w, nil
}

// DeleteWork removes the work with its episodes, comments and favorites.
func (s *Service) DeleteWork(ctx context.Context, id int64) error {
	if err := s.store.DeleteWork(ctx, id); err != nil {
		return workErr(err, "delete work")
	}
	return nil
}

// CreateEpisode validates and stores a new episode of workID.
func (s *Service) CreateEpisode(ctx context.Context, actor model.Account, workID int64, in EpisodeInput) (*model.Episode, error) {
	work, err := s.store.GetWork(ctx, workID)
	if err != nil {
		return nil, workErr(err, "get work")
	}
	title, err := requiredText("title", in.Title, MaxTitleLength)
	if err != nil {
		return nil, err
	}
	if in.Number < 1 {
		return nil, errordefs.Validation("episode number must be a positive integer")
	}
	if strings.TrimSpace(in.Kind) == "" {
		return nil, errordefs.Validation("type is required")
	}
	media, err := resolveMedia(nil, &in.Kind, in.Media)
	if err != nil {
		return nil, err
	}

	ep := &model.Episode{WorkID: workID, Title: title, Number: in.Number, Media: media}
	if err := s.store.CreateEpisode(ctx, ep); err != nil {
		return nil, workErr(err, "create episode")
	}

	s.activity.Record(ctx, model.ActivityWorkUploaded,
		fmt.Sprintf("Episode %d added to %s", ep.Number, work.Title),
		actor.ID, map[string]interface{}{"workId": workID, "episodeId": ep.ID})
	return ep, nil
}

// UpdateEpisode applies a partial update with the same media rules as UpdateWork.
func (s *Service) UpdateEpisode(ctx context.Context, id int64, in EpisodeUpdate) (*model.Episode, error) {
	current, err := s.store.GetEpisode(ctx, id)
	if err != nil {
		return nil, episodeErr(err, "get episode")
	}

	var patch model.EpisodePatch
	if in.Title != nil {
		v, err := requiredText("title", *in.Title, MaxTitleLength)
		if err != nil {
			return nil, err
		}
		patch.Title = &v
	}
	if in.Number != nil {
		if *in.Number < 1 {
			return nil, errordefs.Validation("episode number must be a positive integer")
		}
		patch.Number = in.Number
	}
	if patch.Media, err = resolveMedia(current.Media, in.Kind, in.Media); err != nil {
		return nil, err
	}

	ep, err := s.store.UpdateEpisode(ctx, id, patch)
	if err != nil {
		return nil, episodeErr(err, "update episode")
	}
	return ep, nil
}

// DeleteEpisode removes one episode.
func (s *Service) DeleteEpisode(ctx context.Context, id int64) error {
	if err := s.store.DeleteEpisode(ctx, id); err != nil {
		return episodeErr(err, "delete episode")
	}
	return nil
}

func episodeErr(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errordefs.NotFound("episode not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// resolveMedia decides the media of a create (current == nil) or update.
// It returns nil when an update leaves the media untouched.
func resolveMedia(current model.Media, rawKind *string, in MediaInput) (model.Media, error) {
	var kind model.Kind
	changed := current == nil
	if current != nil {
		kind = current.Kind()
	}
	if rawKind != nil && strings.TrimSpace(*rawKind) != "" {
		k, ok := model.ParseKind(*rawKind)
		if !ok {
			return nil, errordefs.Validation("type must be either video or novel")
		}
		if k != kind {
			kind, changed = k, true
		}
	}

	switch {
	case kind == model.KindVideo && in.PDFURL != "":
		return nil, errordefs.Validation("pdf file does not match type video")
	case kind == model.KindNovel && in.VideoURL != "":
		return nil, errordefs.Validation("video file does not match type novel")
	}

	if changed {
		media, err := model.NewMedia(kind, in.VideoURL, in.PDFURL)
		if err != nil {
			if kind == model.KindVideo {
				return nil, errordefs.Validation("video file is required for video type")
			}
			return nil, errordefs.Validation("pdf file is required for novel type")
		}
		return media, nil
	}

	switch {
	case kind == model.KindVideo && in.VideoURL != "":
		return model.Video{Ref: in.VideoURL}, nil
	case kind == model.KindNovel && in.PDFURL != "":
		return model.Document{Ref: in.PDFURL}, nil
	}
	return nil, nil
}

// requiredText trims v and checks it is non-empty and at most max runes (0 = unbounded).
func requiredText(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errordefs.Validation("%s is required", field)
	}
	if max > 0 && utf8.RuneCountInString(v) > max {
		return "", errordefs.Validation("%s must be at most %d characters", field, max)
	}
	return v, nil
}

func checkRating(r float64) error {
	if r < 0 || r > MaxRating {
		return errordefs.Validation("rating must be between 0 and %d", MaxRating)
	}
	return nil
}
