// internal/server/accounts.go
package server

import (
	"net/http"

	"github.com/animeverse/catalog-go/internal/account"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/schema"
	"github.com/animeverse/catalog-go/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RegisterRequest represents the request body for account registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister handles POST /api/auth/register
func (m *Mux) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleRegister")
	defer span.End()

	var req RegisterRequest
	if err := m.decodeJSON(w, r, schema.AuthRegister, &req); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	sess, err := m.accounts.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		span.SetStatus(codes.Error, "registration failed")
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("account_id", sess.Account.ID))
	m.writeSuccess(w, http.StatusCreated, sess, "User registered successfully")
}

// handleLogin handles POST /api/auth/login
func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleLogin")
	defer span.End()

	var req LoginRequest
	if err := m.decodeJSON(w, r, schema.AuthLogin, &req); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	sess, err := m.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("account_id", sess.Account.ID))
	m.writeSuccess(w, http.StatusOK, sess, "Login successful")
}

// handleProfile handles GET /api/auth/me and GET /api/user/profile
func (m *Mux) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleProfile")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	profile, err := m.accounts.Me(ctx, actor.ID)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"user": profile}, "")
}

// handleUpdateProfile handles PUT /api/user/profile (JSON or multipart with an avatar file)
func (m *Mux) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleUpdateProfile")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	p, err := m.readPayload(w, r, schema.ProfileUpdate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	in := account.ProfileUpdate{Username: p.str("username"), Email: p.str("email")}
	if in.AvatarURL, err = m.optionalMediaRef(ctx, p, media.FieldAvatar, "avatar"); err != nil {
		span.SetStatus(codes.Error, "avatar upload failed")
		m.fail(w, r, err)
		return
	}
	updated, err := m.accounts.UpdateProfile(ctx, actor, in)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"user": updated}, "Profile updated successfully")
}

// handleUploads handles GET /api/user/uploads
func (m *Mux) handleUploads(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleUploads")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	list, err := m.catalog.Uploads(ctx, actor.ID, pageOf(r, model.DefaultPageSize))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list, "")
}

// handleListAccounts handles GET /api/admin/users
func (m *Mux) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleListAccounts")
	defer span.End()

	q := r.URL.Query()
	list, err := m.accounts.ListAccounts(ctx, q.Get("search"), q.Get("role"), pageOf(r, model.DefaultPageSize))
	if err != nil {
		span.SetStatus(codes.Error, "failed to list accounts")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list, "")
}

// handleGetAccount handles GET /api/admin/users/{id}
func (m *Mux) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleGetAccount")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("account_id", id))
	profile, err := m.accounts.GetAccount(ctx, id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"user": profile}, "")
}

// handleUpdateAccount handles PUT /api/admin/users/{id}
func (m *Mux) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleUpdateAccount")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("account_id", id))
	p, err := m.readPayload(w, r, schema.AccountUpdate)
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		m.fail(w, r, err)
		return
	}
	defer p.close()

	updated, err := m.accounts.UpdateAccount(ctx, id, account.AccountUpdate{
		Username: p.str("username"),
		Email:    p.str("email"),
		Role:     p.str("role"),
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"user": updated}, "User updated successfully")
}

// handleDeleteAccount handles DELETE /api/admin/users/{id}
func (m *Mux) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleDeleteAccount")
	defer span.End()
	actor, _ := AccountFrom(ctx)

	id, err := pathID(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("account_id", id))
	if err := m.accounts.DeleteAccount(ctx, actor, id); err != nil {
		span.SetStatus(codes.Error, "failed to delete account")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, nil, "User deleted successfully")
}

// handleStats handles GET /api/admin/stats
func (m *Mux) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), "handleStats")
	defer span.End()

	stats, err := m.accounts.Stats(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build stats")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, stats, "")
}
