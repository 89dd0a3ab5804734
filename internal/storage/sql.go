// internal/storage/sql.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animeverse/catalog-go/internal/model"
)

// row and rows are the scanning surfaces shared by pgx and database/sql.
type row interface {
	Scan(dest ...any) error
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// querier runs statements written with $n placeholders. Implementations
// translate driver errors into ErrNotFound and ErrConflict.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) row
	query(ctx context.Context, query string, args ...any) (rows, error)
}

// sqlDB is a connection pool able to open transactions.
type sqlDB interface {
	querier
	withTx(ctx context.Context, fn func(q querier) error) error
	ping(ctx context.Context) error
	close()
}

// SQLStore is a Store backed by a SQL database. It is returned by NewPostgres
// and NewSQLite so callers can release the connection pool with Close.
type SQLStore struct {
	sqlStore
}

// sqlStore implements Store on any sqlDB. Queries stick to the SQL subset
// PostgreSQL and SQLite share (RETURNING, ON CONFLICT, LOWER/LIKE ESCAPE).
type sqlStore struct {
	db sqlDB
}

// Close closes the underlying connection pool
func (s *sqlStore) Close() {
	s.db.close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.ping(ctx)
}

// ---- accounts ----

const accountColumns = `id, username, email, password_hash, role, avatar_url, created_at, updated_at`

func scanAccount(r row) (*model.Account, error) {
	var a model.Account
	var role string
	if err := r.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &a.AvatarURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	return &a, nil
}

// CreateAccount inserts a new account and assigns its ID
func (s *sqlStore) CreateAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	stamp(&a.CreatedAt, now)
	stamp(&a.UpdatedAt, now)
	query := `INSERT INTO accounts (username, email, password_hash, role, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := s.db.queryRow(ctx, query, a.Username, a.Email, a.PasswordHash, string(a.Role), a.AvatarURL, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *sqlStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.db.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, wrapGet("account", err)
	}
	return a, nil
}

// GetAccountByEmail retrieves an account by its (lowercased) email
func (s *sqlStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(s.db.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, wrapGet("account", err)
	}
	return a, nil
}

func (s *sqlStore) ListAccounts(ctx context.Context, q model.AccountQuery) ([]model.Account, int64, error) {
	var where []string
	var args []any
	if q.Search != "" {
		args = append(args, likePattern(q.Search))
		n := len(args)
		where = append(where, fmt.Sprintf(`(LOWER(username) LIKE $%d ESCAPE '\' OR LOWER(email) LIKE $%d ESCAPE '\')`, n, n))
	}
	if q.Role != "" {
		args = append(args, string(q.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	clause := whereClause(where)

	var total int64
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM accounts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	page := q.Page.Normalize()
	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		accountColumns, clause, len(args)-1, len(args))
	rs, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rs.Close()

	out := make([]model.Account, 0)
	for rs.Next() {
		a, err := scanAccount(rs)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}
	if err := rs.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, total, nil
}

func (s *sqlStore) UpdateAccount(ctx context.Context, id int64, p model.AccountPatch) (*model.Account, error) {
	set := newSetList()
	if p.Username != nil {
		set.add("username", *p.Username)
	}
	if p.Email != nil {
		set.add("email", *p.Email)
	}
	if p.Role != nil {
		set.add("role", string(*p.Role))
	}
	if p.AvatarURL != nil {
		set.add("avatar_url", *p.AvatarURL)
	}
	set.add("updated_at", time.Now().UTC())

	var out *model.Account
	err := s.db.withTx(ctx, func(q querier) error {
		stmt := set.update("accounts", id)
		n, err := q.exec(ctx, stmt, set.args...)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		out, err = scanAccount(q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return out, nil
}

// DeleteAccount removes an account; foreign keys cascade to its works,
// comments and favorites and clear its activity references.
func (s *sqlStore) DeleteAccount(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "accounts", id)
}

func (s *sqlStore) AccountStats(ctx context.Context, id int64) (model.AccountStats, error) {
	var st model.AccountStats
	query := `SELECT
		(SELECT COUNT(*) FROM favorites WHERE account_id = $1),
		(SELECT COUNT(*) FROM comments WHERE account_id = $1),
		(SELECT COUNT(*) FROM works WHERE created_by = $1),
		(SELECT CAST(COALESCE(SUM(views), 0) AS BIGINT) FROM works WHERE created_by = $1)`
	err := s.db.queryRow(ctx, query, id).Scan(&st.FavoritesCount, &st.CommentsCount, &st.UploadsCount, &st.TotalViews)
	if err != nil {
		return st, fmt.Errorf("failed to compute account stats: %w", err)
	}
	return st, nil
}

// ---- works ----

const workSelect = `SELECT w.id, w.title, w.description, w.kind, w.video_url, w.pdf_url, w.category,
	w.thumbnail_url, w.rating, w.views, w.created_by, w.created_at, w.updated_at, a.username, a.avatar_url
	FROM works w JOIN accounts a ON a.id = w.created_by`

func scanWork(r row) (*model.Work, error) {
	var w model.Work
	var kind string
	var videoURL, pdfURL *string
	creator := &model.AccountSummary{}
	err := r.Scan(&w.ID, &w.Title, &w.Description, &kind, &videoURL, &pdfURL, &w.Category,
		&w.ThumbnailURL, &w.Rating, &w.Views, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt,
		&creator.Username, &creator.AvatarURL)
	if err != nil {
		return nil, err
	}
	media, err := model.MediaFromColumns(kind, videoURL, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("work %d: %w", w.ID, err)
	}
	w.Media = media
	creator.ID = w.CreatedBy
	w.Creator = creator
	return &w, nil
}

func collectWorks(rs rows, err error) ([]model.Work, error) {
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	out := make([]model.Work, 0)
	for rs.Next() {
		w, err := scanWork(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rs.Err()
}

// CreateWork inserts a work and assigns its ID
func (s *sqlStore) CreateWork(ctx context.Context, w *model.Work) error {
	now := time.Now().UTC()
	stamp(&w.CreatedAt, now)
	stamp(&w.UpdatedAt, now)
	videoURL, pdfURL := model.MediaColumns(w.Media)
	query := `INSERT INTO works (title, description, kind, video_url, pdf_url, category, thumbnail_url, rating, views, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	err := s.db.queryRow(ctx, query, w.Title, w.Description, string(w.Kind()), videoURL, pdfURL, w.Category,
		w.ThumbnailURL, w.Rating, w.Views, w.CreatedBy, w.CreatedAt, w.UpdatedAt).Scan(&w.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("creator %d: %w", w.CreatedBy, ErrNotFound)
		}
		return fmt.Errorf("failed to create work: %w", err)
	}
	if creator, err := s.GetAccount(ctx, w.CreatedBy); err == nil {
		w.Creator = creator.Summary()
	}
	return nil
}

// GetWork retrieves a work with its creator summary
func (s *sqlStore) GetWork(ctx context.Context, id int64) (*model.Work, error) {
	w, err := scanWork(s.db.queryRow(ctx, workSelect+` WHERE w.id = $1`, id))
	if err != nil {
		return nil, wrapGet("work", err)
	}
	return w, nil
}

// ListWorks applies the filters of q and returns one page plus the total match count
func (s *sqlStore) ListWorks(ctx context.Context, q model.WorkQuery) ([]model.Work, int64, error) {
	var where []string
	var args []any
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("w.kind = $%d", len(args)))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("w.category = $%d", len(args)))
	}
	if q.CreatedBy != 0 {
		args = append(args, q.CreatedBy)
		where = append(where, fmt.Sprintf("w.created_by = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, likePattern(q.Search))
		n := len(args)
		where = append(where, fmt.Sprintf(`(LOWER(w.title) LIKE $%d ESCAPE '\' OR LOWER(w.description) LIKE $%d ESCAPE '\')`, n, n))
	}
	clause := whereClause(where)

	var total int64
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM works w`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count works: %w", err)
	}

	order := ` ORDER BY w.created_at DESC, w.id DESC`
	if q.Order == model.OrderPopularity {
		order = ` ORDER BY w.views DESC, w.created_at DESC, w.id DESC`
	}
	page := q.Page.Normalize()
	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`%s%s%s LIMIT $%d OFFSET $%d`, workSelect, clause, order, len(args)-1, len(args))

	works, err := collectWorks(s.db.query(ctx, query, args...))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list works: %w", err)
	}
	return works, total, nil
}

func (s *sqlStore) UpdateWork(ctx context.Context, id int64, p model.WorkPatch) (*model.Work, error) {
	set := newSetList()
	if p.Title != nil {
		set.add("title", *p.Title)
	}
	if p.Description != nil {
		set.add("description", *p.Description)
	}
	if p.Category != nil {
		set.add("category", *p.Category)
	}
	if p.ThumbnailURL != nil {
		set.add("thumbnail_url", *p.ThumbnailURL)
	}
	if p.Rating != nil {
		set.add("rating", *p.Rating)
	}
	if p.Media != nil {
		videoURL, pdfURL := model.MediaColumns(p.Media)
		set.add("kind", string(p.Media.Kind()))
		set.add("video_url", videoURL)
		set.add("pdf_url", pdfURL)
	}
	set.add("updated_at", time.Now().UTC())

	var out *model.Work
	err := s.db.withTx(ctx, func(q querier) error {
		stmt := set.update("works", id)
		n, err := q.exec(ctx, stmt, set.args...)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		out, err = scanWork(q.queryRow(ctx, workSelect+` WHERE w.id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update work: %w", err)
	}
	return out, nil
}

// DeleteWork removes a work; episodes, comments and favorites cascade.
func (s *sqlStore) DeleteWork(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "works", id)
}

// IncrementViews bumps the counter in a single statement so concurrent
// detail fetches never lose an update.
func (s *sqlStore) IncrementViews(ctx context.Context, id int64) (int64, error) {
	var views int64
	err := s.db.queryRow(ctx, `UPDATE works SET views = views + 1 WHERE id = $1 RETURNING views`, id).Scan(&views)
	if err != nil {
		return 0, wrapGet("work", err)
	}
	return views, nil
}

// ---- episodes ----

const episodeColumns = `id, work_id, title, number, kind, video_url, pdf_url, created_at, updated_at`

func scanEpisode(r row) (*model.Episode, error) {
	var e model.Episode
	var kind string
	var videoURL, pdfURL *string
	if err := r.Scan(&e.ID, &e.WorkID, &e.Title, &e.Number, &kind, &videoURL, &pdfURL, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	media, err := model.MediaFromColumns(kind, videoURL, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("episode %d: %w", e.ID, err)
	}
	e.Media = media
	return &e, nil
}

func (s *sqlStore) CreateEpisode(ctx context.Context, e *model.Episode) error {
	now := time.Now().UTC()
	stamp(&e.CreatedAt, now)
	stamp(&e.UpdatedAt, now)
	videoURL, pdfURL := model.MediaColumns(e.Media)
	var kind string
	if e.Media != nil {
		kind = string(e.Media.Kind())
	}
	query := `INSERT INTO episodes (work_id, title, number, kind, video_url, pdf_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	err := s.db.queryRow(ctx, query, e.WorkID, e.Title, e.Number, kind, videoURL, pdfURL, e.CreatedAt, e.UpdatedAt).Scan(&e.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("work %d: %w", e.WorkID, ErrNotFound)
		}
		return fmt.Errorf("failed to create episode: %w", err)
	}
	return nil
}

func (s *sqlStore) GetEpisode(ctx context.Context, id int64) (*model.Episode, error) {
	e, err := scanEpisode(s.db.queryRow(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id))
	if err != nil {
		return nil, wrapGet("episode", err)
	}
	return e, nil
}

func (s *sqlStore) ListEpisodes(ctx context.Context, workID int64) ([]model.Episode, error) {
	if err := s.workExists(ctx, s.db, workID); err != nil {
		return nil, err
	}
	rs, err := s.db.query(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE work_id = $1
		ORDER BY number ASC, created_at ASC, id ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rs.Close()

	out := make([]model.Episode, 0)
	for rs.Next() {
		e, err := scanEpisode(rs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		out = append(out, *e)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episodes: %w", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateEpisode(ctx context.Context, id int64, p model.EpisodePatch) (*model.Episode, error) {
	set := newSetList()
	if p.Title != nil {
		set.add("title", *p.Title)
	}
	if p.Number != nil {
		set.add("number", *p.Number)
	}
	if p.Media != nil {
		videoURL, pdfURL := model.MediaColumns(p.Media)
		set.add("kind", string(p.Media.Kind()))
		set.add("video_url", videoURL)
		set.add("pdf_url", pdfURL)
	}
	set.add("updated_at", time.Now().UTC())

	var out *model.Episode
	err := s.db.withTx(ctx, func(q querier) error {
		stmt := set.update("episodes", id)
		n, err := q.exec(ctx, stmt, set.args...)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		out, err = scanEpisode(q.queryRow(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update episode: %w", err)
	}
	return out, nil
}

func (s *sqlStore) DeleteEpisode(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "episodes", id)
}

// ---- comments ----

func (s *sqlStore) CreateComment(ctx context.Context, c *model.Comment) error {
	stamp(&c.CreatedAt, time.Now().UTC())
	err := s.db.withTx(ctx, func(q querier) error {
		err := q.queryRow(ctx, `INSERT INTO comments (work_id, account_id, text, created_at)
			VALUES ($1, $2, $3, $4) RETURNING id`, c.WorkID, c.AccountID, c.Text, c.CreatedAt).Scan(&c.ID)
		if err != nil {
			return err
		}
		author := &model.AccountSummary{ID: c.AccountID}
		if err := q.queryRow(ctx, `SELECT username, avatar_url FROM accounts WHERE id = $1`, c.AccountID).
			Scan(&author.Username, &author.AvatarURL); err != nil {
			return err
		}
		c.Author = author
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.missingParent(ctx, c.AccountID, c.WorkID)
		}
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (s *sqlStore) ListComments(ctx context.Context, workID int64, page model.Page) ([]model.Comment, int64, error) {
	if err := s.workExists(ctx, s.db, workID); err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM comments WHERE work_id = $1`, workID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count comments: %w", err)
	}
	page = page.Normalize()
	rs, err := s.db.query(ctx, `SELECT c.id, c.work_id, c.account_id, c.text, c.created_at, a.username, a.avatar_url
		FROM comments c JOIN accounts a ON a.id = c.account_id
		WHERE c.work_id = $1 ORDER BY c.created_at DESC, c.id DESC LIMIT $2 OFFSET $3`, workID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rs.Close()

	out := make([]model.Comment, 0)
	for rs.Next() {
		var c model.Comment
		author := &model.AccountSummary{}
		if err := rs.Scan(&c.ID, &c.WorkID, &c.AccountID, &c.Text, &c.CreatedAt, &author.Username, &author.AvatarURL); err != nil {
			return nil, 0, fmt.Errorf("failed to scan comment: %w", err)
		}
		author.ID = c.AccountID
		c.Author = author
		out = append(out, c)
	}
	if err := rs.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating comments: %w", err)
	}
	return out, total, nil
}

// ---- favorites ----

// ToggleFavorite deletes the pair if present, otherwise inserts it with
// ON CONFLICT DO NOTHING. When a concurrent toggle wins the race, neither
// statement affects a row and the loop tries again.
func (s *sqlStore) ToggleFavorite(ctx context.Context, accountID, workID int64) (bool, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		n, err := s.db.exec(ctx, `DELETE FROM favorites WHERE account_id = $1 AND work_id = $2`, accountID, workID)
		if err != nil {
			return false, fmt.Errorf("failed to delete favorite: %w", err)
		}
		if n > 0 {
			return false, nil
		}
		n, err = s.db.exec(ctx, `INSERT INTO favorites (account_id, work_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (account_id, work_id) DO NOTHING`, accountID, workID, time.Now().UTC())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, s.missingParent(ctx, accountID, workID)
			}
			return false, fmt.Errorf("failed to insert favorite: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, fmt.Errorf("favorite toggle for account %d work %d did not settle after %d attempts", accountID, workID, toggleAttempts)
}

func (s *sqlStore) IsFavorite(ctx context.Context, accountID, workID int64) (bool, error) {
	var n int64
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM favorites WHERE account_id = $1 AND work_id = $2`, accountID, workID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) ListFavorites(ctx context.Context, accountID int64, page model.Page) ([]model.Work, int64, error) {
	var total int64
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM favorites WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count favorites: %w", err)
	}
	page = page.Normalize()
	query := workSelect + ` JOIN favorites f ON f.work_id = w.id WHERE f.account_id = $1
		ORDER BY f.created_at DESC, w.id DESC LIMIT $2 OFFSET $3`
	works, err := collectWorks(s.db.query(ctx, query, accountID, page.Size, page.Offset()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list favorites: %w", err)
	}
	return works, total, nil
}

// ---- activity ----

func (s *sqlStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	stamp(&a.CreatedAt, time.Now().UTC())
	var metadata []byte
	if len(a.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(a.Metadata); err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
	}
	err := s.db.queryRow(ctx, `INSERT INTO activities (type, description, account_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`, string(a.Type), a.Description, a.AccountID, metadata, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *sqlStore) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	rs, err := s.db.query(ctx, `SELECT v.id, v.type, v.description, v.account_id, v.metadata, v.created_at, a.username, a.avatar_url
		FROM activities v LEFT JOIN accounts a ON a.id = v.account_id
		ORDER BY v.created_at DESC, v.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rs.Close()

	out := make([]model.Activity, 0, limit)
	for rs.Next() {
		var a model.Activity
		var typ string
		var metadata []byte
		var username, avatar *string
		if err := rs.Scan(&a.ID, &typ, &a.Description, &a.AccountID, &metadata, &a.CreatedAt, &username, &avatar); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Type = model.ActivityType(typ)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		if a.AccountID != nil && username != nil {
			a.Account = &model.AccountSummary{ID: *a.AccountID, Username: *username}
			if avatar != nil {
				a.Account.AvatarURL = *avatar
			}
		}
		out = append(out, a)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Overview(ctx context.Context, since time.Time) (model.Overview, error) {
	var o model.Overview
	query := `SELECT
		(SELECT COUNT(*) FROM accounts),
		(SELECT COUNT(*) FROM works),
		(SELECT COUNT(*) FROM works WHERE kind = 'video'),
		(SELECT COUNT(*) FROM works WHERE kind = 'novel'),
		(SELECT CAST(COALESCE(SUM(views), 0) AS BIGINT) FROM works),
		(SELECT COUNT(*) FROM accounts WHERE created_at >= $1)`
	err := s.db.queryRow(ctx, query, since.UTC()).Scan(&o.TotalUsers, &o.TotalWorks, &o.TotalVideos,
		&o.TotalNovels, &o.TotalViews, &o.NewUsersLast30d)
	if err != nil {
		return o, fmt.Errorf("failed to compute overview: %w", err)
	}
	return o, nil
}

// ---- helpers ----

func (s *sqlStore) workExists(ctx context.Context, q querier, id int64) error {
	var one int
	if err := q.queryRow(ctx, `SELECT 1 FROM works WHERE id = $1`, id).Scan(&one); err != nil {
		return wrapGet("work", err)
	}
	return nil
}

// missingParent names the row behind a foreign key violation on a
// comment or favorite insert, checking the work first.
func (s *sqlStore) missingParent(ctx context.Context, accountID, workID int64) error {
	if err := s.workExists(ctx, s.db, workID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("work %d: %w", workID, ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
}

// deleteByID removes one row from table; table is always a package constant.
func (s *sqlStore) deleteByID(ctx context.Context, table string, id int64) error {
	n, err := s.db.exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapGet(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func likePattern(s string) string {
	return "%" + model.EscapeLike(strings.ToLower(s)) + "%"
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// setList accumulates column assignments for a partial UPDATE.
type setList struct {
	cols []string
	args []any
}

func newSetList() *setList { return &setList{} }

func (s *setList) add(col string, v any) {
	s.args = append(s.args, v)
	s.cols = append(s.cols, fmt.Sprintf("%s = $%d", col, len(s.args)))
}

// update renders the statement and appends id as the final argument.
func (s *setList) update(table string, id int64) string {
	s.args = append(s.args, id)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(s.cols, ", "), len(s.args))
}
