// internal/storage/store.go
// Package storage provides implementations of the Store interface
// for in-memory, PostgreSQL and SQLite storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/animeverse/catalog-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Referenced row is absent
	ErrConflict = errors.New("conflict")  // Unique key already taken
)

// Store interface defines the storage operations required by the catalog service.
// All backends enforce favorite uniqueness per (account, work) and cascade
// deletions from works and accounts to their dependents; activity rows survive
// account deletion with the account reference cleared.
type Store interface {
	// Account operations. CreateAccount assigns the ID and returns
	// ErrConflict on a duplicate username or email. Getters return
	// ErrNotFound when the account is absent; ListAccounts is newest first.
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	ListAccounts(ctx context.Context, q model.AccountQuery) ([]model.Account, int64, error)
	UpdateAccount(ctx context.Context, id int64, p model.AccountPatch) (*model.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	AccountStats(ctx context.Context, id int64) (model.AccountStats, error)

	// Work operations. CreateWork returns ErrNotFound if the creator is
	// absent. GetWork includes the creator summary. DeleteWork cascades to
	// episodes, comments and favorites.
	CreateWork(ctx context.Context, w *model.Work) error
	GetWork(ctx context.Context, id int64) (*model.Work, error)
	ListWorks(ctx context.Context, q model.WorkQuery) ([]model.Work, int64, error)
	UpdateWork(ctx context.Context, id int64, p model.WorkPatch) (*model.Work, error)
	DeleteWork(ctx context.Context, id int64) error
	// IncrementViews is atomic and returns the new count.
	IncrementViews(ctx context.Context, id int64) (int64, error)

	// Episode operations. ListEpisodes orders by number, then creation order.
	CreateEpisode(ctx context.Context, e *model.Episode) error
	GetEpisode(ctx context.Context, id int64) (*model.Episode, error)
	ListEpisodes(ctx context.Context, workID int64) ([]model.Episode, error)
	UpdateEpisode(ctx context.Context, id int64, p model.EpisodePatch) (*model.Episode, error)
	DeleteEpisode(ctx context.Context, id int64) error

	// Comment operations. CreateComment fills the ID and Author.
	CreateComment(ctx context.Context, c *model.Comment) error
	ListComments(ctx context.Context, workID int64, page model.Page) ([]model.Comment, int64, error)

	// Favorite operations. ToggleFavorite reports whether the favorite now exists.
	ToggleFavorite(ctx context.Context, accountID, workID int64) (bool, error)
	IsFavorite(ctx context.Context, accountID, workID int64) (bool, error)
	ListFavorites(ctx context.Context, accountID int64, page model.Page) ([]model.Work, int64, error)

	// Activity log
	AppendActivity(ctx context.Context, a *model.Activity) error
	RecentActivity(ctx context.Context, limit int) ([]model.Activity, error)

	// Overview returns catalog-wide counters; new users are those created at or after since.
	Overview(ctx context.Context, since time.Time) (model.Overview, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// toggleAttempts bounds the delete-else-insert loop of ToggleFavorite.
// Each retry only happens when a concurrent toggle won the race.
const toggleAttempts = 3

func stamp(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now
	}
}
