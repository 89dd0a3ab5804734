// internal/server/engagement.go
package server

import (
	"net/http"

	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/schema"
	"github.com/animeverse/catalog-go/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CommentRequest represents the request body for adding a comment.
type CommentRequest struct {
	Text string `json:"text"`
}

// handleListComments handles GET /api/works/{id}/comments
func (m *Mux) handleListComments(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleListComments")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))
	list, err := m.engagement.Comments(ctx, id, pageOf(r, model.DefaultCommentPageSize))
	if err != nil {
		span.SetStatus(codes.Error, "failed to list comments")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list, "")
}

// handleAddComment handles POST /api/works/{id}/comments
func (m *Mux) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleAddComment")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	var req CommentRequest
	if err := m.decodeJSON(w, r, schema.CommentCreate, &req); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id), attribute.Int("text_length", len(req.Text)))

	c, err := m.engagement.AddComment(ctx, actor, id, req.Text)
	if err != nil {
		span.SetStatus(codes.Error, "failed to add comment")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, map[string]interface{}{"comment": c}, "Comment added successfully")
}

// handleToggleFavorite handles POST /api/works/{id}/favorite and POST /api/favorites/{id}
func (m *Mux) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleToggleFavorite")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("work_id", id))
	state, err := m.engagement.ToggleFavorite(ctx, actor, id)
	if err != nil {
		span.SetStatus(codes.Error, "failed to toggle favorite")
		m.fail(w, r, err)
		return
	}
	message := "Removed from favorites"
	if state.IsFavorited {
		message = "Added to favorites"
	}
	m.writeSuccess(w, http.StatusOK, state, message)
}

// handleFavoriteStatus handles GET /api/favorites/{id}/status
func (m *Mux) handleFavoriteStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleFavoriteStatus")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	state, err := m.engagement.FavoriteStatus(ctx, actor, id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, state, "")
}

// handleListFavorites handles GET /api/favorites
func (m *Mux) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleListFavorites")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	list, err := m.engagement.Favorites(ctx, actor.ID, pageOf(r, model.DefaultPageSize))
	if err != nil {
		span.SetStatus(codes.Error, "failed to list favorites")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list, "")
}
