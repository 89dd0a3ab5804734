// internal/server/works.go
package server

import (
	"net/http"

	"github.com/animeverse/catalog-go/internal/catalog"
	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/schema"
	"github.com/animeverse/catalog-go/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// filterOf reads the listing filters. search falls back to query for the
// search endpoint's parameter name.
func filterOf(r *http.Request) catalog.Filter {
	q := r.URL.Query()
	search := q.Get("search")
	if search == "" {
		search = q.Get("query")
	}
	return catalog.Filter{Kind: q.Get("type"), Category: q.Get("category"), Search: search}
}

// handleListWorks handles GET /api/works
func (m *Mux) handleListWorks(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleListWorks")
	defer span.End()

	f, page := filterOf(r), pageOf(r, model.DefaultPageSize)
	span.SetAttributes(
		attribute.String("type", f.Kind),
		attribute.String("category", f.Category),
		attribute.Int("page", page.Number),
	)

	list, err := m.catalog.List(ctx, f, page)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list works")
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("total", list.Pagination.TotalItems))
	m.writeSuccess(w, http.StatusOK, list, "")
}

// handleSearchWorks handles GET /api/works/search
func (m *Mux) handleSearchWorks(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleSearchWorks")
	defer span.End()

	f, page := filterOf(r), pageOf(r, model.DefaultPageSize)
	span.SetAttributes(attribute.String("query", f.Search), attribute.Int("page", page.Number))

	list, err := m.catalog.Search(ctx, f, page)
	if err != nil {
		span.SetStatus(codes.Error, "search failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list, "")
}

// handleGetWork handles GET /api/works/{id}; every call counts a view.
func (m *Mux) handleGetWork(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleGetWork")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))

	work, err := m.catalog.Get(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get work")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"work": work}, "")
}

// handleCreateWork handles POST /api/works (multipart)
func (m *Mux) handleCreateWork(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleCreateWork")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	p, err := m.readPayload(w, r, schema.WorkCreate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	in := catalog.WorkInput{
		Title:       p.text("title"),
		Description: p.text("description"),
		Kind:        p.text("type"),
		Category:    p.text("category"),
	}
	span.SetAttributes(attribute.String("type", in.Kind), attribute.String("category", in.Category))
	if in.Rating, err = parseRating(p.str("rating")); err != nil {
		m.fail(w, r, err)
		return
	}
	if in.Media, err = m.mediaInput(r, p); err != nil {
		span.SetStatus(codes.Error, "media upload failed")
		m.fail(w, r, err)
		return
	}
	if in.ThumbnailURL, err = m.mediaRef(ctx, p, media.FieldThumbnail, "thumbnail"); err != nil {
		span.SetStatus(codes.Error, "thumbnail upload failed")
		m.fail(w, r, err)
		return
	}

	work, err := m.catalog.CreateWork(ctx, actor, in)
	if err != nil {
		span.SetStatus(codes.Error, "failed to create work")
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", work.ID))
	m.writeSuccess(w, http.StatusCreated, map[string]interface{}{"work": work}, "Work uploaded successfully")
}

// handleUpdateWork handles PUT /api/works/{id}
func (m *Mux) handleUpdateWork(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleUpdateWork")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))
	p, err := m.readPayload(w, r, schema.WorkUpdate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	in := catalog.WorkUpdate{
		Title:       p.str("title"),
		Description: p.str("description"),
		Kind:        p.str("type"),
		Category:    p.str("category"),
	}
	if in.Rating, err = parseRating(p.str("rating")); err != nil {
		m.fail(w, r, err)
		return
	}
	if in.Media, err = m.mediaInput(r, p); err != nil {
		span.SetStatus(codes.Error, "media upload failed")
		m.fail(w, r, err)
		return
	}
	if in.ThumbnailURL, err = m.optionalMediaRef(ctx, p, media.FieldThumbnail, "thumbnail"); err != nil {
		m.fail(w, r, err)
		return
	}

	work, err := m.catalog.UpdateWork(ctx, id, in)
	if err != nil {
		span.SetStatus(codes.Error, "failed to update work")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"work": work}, "Work updated successfully")
}

// handleDeleteWork handles DELETE /api/works/{id}
func (m *Mux) handleDeleteWork(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleDeleteWork")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))
	if err := m.catalog.DeleteWork(ctx, id); err != nil {
		span.SetStatus(codes.Error, "failed to delete work")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, nil, "Work deleted successfully")
}

// handleListEpisodes handles GET /api/works/{id}/episodes
func (m *Mux) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleListEpisodes")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))
	eps, err := m.catalog.Episodes(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list episodes")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"episodes": eps}, "")
}

// handleCreateEpisode handles POST /api/works/{id}/episodes (multipart)
func (m *Mux) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleCreateEpisode")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	workID, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", workID))
	p, err := m.readPayload(w, r, schema.EpisodeCreate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	in := catalog.EpisodeInput{Title: p.text("title"), Kind: p.text("type")}
	number, err := parseNumber(p.str("episodeNumber"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	if number != nil {
		in.Number = *number
	}
	if in.Media, err = m.mediaInput(r, p); err != nil {
		span.SetStatus(codes.Error, "media upload failed")
		m.fail(w, r, err)
		return
	}

	ep, err := m.catalog.CreateEpisode(ctx, actor, workID, in)
	if err != nil {
		span.SetStatus(codes.Error, "failed to create episode")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, map[string]interface{}{"episode": ep}, "Episode added successfully")
}

// handleUpdateEpisode handles PUT /api/episodes/{id}
func (m *Mux) handleUpdateEpisode(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleUpdateEpisode")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("episode_id", id))
	p, err := m.readPayload(w, r, schema.EpisodeUpdate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	in := catalog.EpisodeUpdate{Title: p.str("title"), Kind: p.str("type")}
	if in.Number, err = parseNumber(p.str("episodeNumber")); err != nil {
		m.fail(w, r, err)
		return
	}
	if in.Media, err = m.mediaInput(r, p); err != nil {
		m.fail(w, r, err)
		return
	}

	ep, err := m.catalog.UpdateEpisode(ctx, id, in)
	if err != nil {
		span.SetStatus(codes.Error, "failed to update episode")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"episode": ep}, "Episode updated successfully")
}

// handleDeleteEpisode handles DELETE /api/episodes/{id}
func (m *Mux) handleDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleDeleteEpisode")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	if err := m.catalog.DeleteEpisode(ctx, id); err != nil {
		span.SetStatus(codes.Error, "failed to delete episode")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, nil, "Episode deleted successfully")
}

// mediaInput ingests the video and pdf slots of a form. When the form names
// a type, media of the other kind is refused before anything is stored.
func (m *Mux) mediaInput(r *http.Request, p *payload) (catalog.MediaInput, error) {
	var in catalog.MediaInput
	var err error
	if kind, ok := model.ParseKind(p.text("type")); ok {
		stray, ref := media.FieldPDF, "pdfUrl"
		if kind == model.KindNovel {
			stray, ref = media.FieldVideo, "videoUrl"
		}
		if p.file(string(stray)) != nil || p.text(ref) != "" {
			return in, errordefs.Validation("%s file does not match type %s", stray, kind)
		}
	}
	if in.VideoURL, err = m.mediaRef(r.Context(), p, media.FieldVideo, "videoUrl"); err != nil {
		return in, err
	}
	if in.PDFURL, err = m.mediaRef(r.Context(), p, media.FieldPDF, "pdfUrl"); err != nil {
		return in, err
	}
	return in, nil
}
