// internal/storage/memory.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animeverse/catalog-go/internal/model"
)

type favoriteKey struct {
	accountID int64
	workID    int64
}

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu         sync.RWMutex              // Protects every map below
	accounts   map[int64]*model.Account  // Account ID to account
	works      map[int64]*model.Work     // Work ID to work (without creator/comments)
	episodes   map[int64]*model.Episode  // Episode ID to episode
	comments   map[int64]*model.Comment  // Comment ID to comment (without author)
	favorites  map[favoriteKey]time.Time // Favorite pair to creation time
	activities []model.Activity          // Append-only, oldest first
	seq        map[string]int64          // Per-table auto-increment counters
}

// NewMemory creates a new in-memory storage implementation.
// Returns a Store interface that can be used for testing or development.
func NewMemory() Store {
	return &memory{
		accounts:  make(map[int64]*model.Account),
		works:     make(map[int64]*model.Work),
		episodes:  make(map[int64]*model.Episode),
		comments:  make(map[int64]*model.Comment),
		favorites: make(map[favoriteKey]time.Time),
		seq:       make(map[string]int64),
	}
}

func (m *memory) next(table string) int64 {
	m.seq[table]++
	return m.seq[table]
}

func (m *memory) Ping(ctx context.Context) error { return nil }

// ---- accounts ----

func (m *memory) CreateAccount(ctx context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if existing.Username == a.Username || strings.EqualFold(existing.Email, a.Email) {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	stamp(&a.CreatedAt, now)
	stamp(&a.UpdatedAt, now)
	a.ID = m.next("accounts")
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memory) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memory) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) ListAccounts(ctx context.Context, q model.AccountQuery) ([]model.Account, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(q.Search)
	matched := make([]model.Account, 0)
	for _, a := range m.accounts {
		if q.Role != "" && a.Role != q.Role {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(a.Username), needle) &&
			!strings.Contains(strings.ToLower(a.Email), needle) {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return pageSlice(matched, q.Page), int64(len(matched)), nil
}

func (m *memory) UpdateAccount(ctx context.Context, id int64, p model.AccountPatch) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, other := range m.accounts {
		if other.ID == id {
			continue
		}
		if p.Username != nil && other.Username == *p.Username {
			return nil, ErrConflict
		}
		if p.Email != nil && strings.EqualFold(other.Email, *p.Email) {
			return nil, ErrConflict
		}
	}
	if p.Username != nil {
		a.Username = *p.Username
	}
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.AvatarURL != nil {
		a.AvatarURL = *p.AvatarURL
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (m *memory) DeleteAccount(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	for wid, w := range m.works {
		if w.CreatedBy == id {
			m.deleteWorkLocked(wid)
		}
	}
	for cid, c := range m.comments {
		if c.AccountID == id {
			delete(m.comments, cid)
		}
	}
	for k := range m.favorites {
		if k.accountID == id {
			delete(m.favorites, k)
		}
	}
	for i := range m.activities {
		if a := m.activities[i].AccountID; a != nil && *a == id {
			m.activities[i].AccountID = nil
		}
	}
	delete(m.accounts, id)
	return nil
}

func (m *memory) AccountStats(ctx context.Context, id int64) (model.AccountStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st model.AccountStats
	for k := range m.favorites {
		if k.accountID == id {
			st.FavoritesCount++
		}
	}
	for _, c := range m.comments {
		if c.AccountID == id {
			st.CommentsCount++
		}
	}
	for _, w := range m.works {
		if w.CreatedBy == id {
			st.UploadsCount++
			st.TotalViews += w.Views
		}
	}
	return st, nil
}

// ---- works ----

func (m *memory) CreateWork(ctx context.Context, w *model.Work) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[w.CreatedBy]; !ok {
		return fmt.Errorf("creator %d: %w", w.CreatedBy, ErrNotFound)
	}
	now := time.Now().UTC()
	stamp(&w.CreatedAt, now)
	stamp(&w.UpdatedAt, now)
	w.ID = m.next("works")
	cp := *w
	cp.Creator, cp.RecentComments = nil, nil
	m.works[w.ID] = &cp
	w.Creator = m.summaryLocked(w.CreatedBy)
	return nil
}

func (m *memory) GetWork(ctx context.Context, id int64) (*model.Work, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.works[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := m.composeWorkLocked(w)
	return &out, nil
}

func (m *memory) composeWorkLocked(w *model.Work) model.Work {
	cp := *w
	cp.Creator = m.summaryLocked(w.CreatedBy)
	return cp
}

func (m *memory) summaryLocked(accountID int64) *model.AccountSummary {
	if a, ok := m.accounts[accountID]; ok {
		return a.Summary()
	}
	return nil
}

func (m *memory) matchWork(w *model.Work, q model.WorkQuery) bool {
	if q.Kind != "" && w.Kind() != q.Kind {
		return false
	}
	if q.Category != "" && w.Category != q.Category {
		return false
	}
	if q.CreatedBy != 0 && w.CreatedBy != q.CreatedBy {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(w.Title), needle) &&
			!strings.Contains(strings.ToLower(w.Description), needle) {
			return false
		}
	}
	return true
}

func (m *memory) ListWorks(ctx context.Context, q model.WorkQuery) ([]model.Work, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]model.Work, 0)
	for _, w := range m.works {
		if m.matchWork(w, q) {
			matched = append(matched, m.composeWorkLocked(w))
		}
	}
	sortWorks(matched, q.Order)
	return pageSlice(matched, q.Page), int64(len(matched)), nil
}

func sortWorks(ws []model.Work, order model.WorkOrder) {
	sort.Slice(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if order == model.OrderPopularity && a.Views != b.Views {
			return a.Views > b.Views
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (m *memory) UpdateWork(ctx context.Context, id int64, p model.WorkPatch) (*model.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.works[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.Category != nil {
		w.Category = *p.Category
	}
	if p.ThumbnailURL != nil {
		w.ThumbnailURL = *p.ThumbnailURL
	}
	if p.Rating != nil {
		w.Rating = *p.Rating
	}
	if p.Media != nil {
		w.Media = p.Media
	}
	w.UpdatedAt = time.Now().UTC()
	out := m.composeWorkLocked(w)
	return &out, nil
}

func (m *memory) DeleteWork(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.works[id]; !ok {
		return ErrNotFound
	}
	m.deleteWorkLocked(id)
	return nil
}

func (m *memory) deleteWorkLocked(id int64) {
	for eid, e := range m.episodes {
		if e.WorkID == id {
			delete(m.episodes, eid)
		}
	}
	for cid, c := range m.comments {
		if c.WorkID == id {
			delete(m.comments, cid)
		}
	}
	for k := range m.favorites {
		if k.workID == id {
			delete(m.favorites, k)
		}
	}
	delete(m.works, id)
}

func (m *memory) IncrementViews(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.works[id]
	if !ok {
		return 0, ErrNotFound
	}
	w.Views++
	return w.Views, nil
}

// ---- episodes ----

func (m *memory) CreateEpisode(ctx context.Context, e *model.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.works[e.WorkID]; !ok {
		return fmt.Errorf("work %d: %w", e.WorkID, ErrNotFound)
	}
	now := time.Now().UTC()
	stamp(&e.CreatedAt, now)
	stamp(&e.UpdatedAt, now)
	e.ID = m.next("episodes")
	cp := *e
	m.episodes[e.ID] = &cp
	return nil
}

func (m *memory) GetEpisode(ctx context.Context, id int64) (*model.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.episodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memory) ListEpisodes(ctx context.Context, workID int64) ([]model.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.works[workID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Episode, 0)
	for _, e := range m.episodes {
		if e.WorkID == workID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *memory) UpdateEpisode(ctx context.Context, id int64, p model.EpisodePatch) (*model.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.episodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Number != nil {
		e.Number = *p.Number
	}
	if p.Media != nil {
		e.Media = p.Media
	}
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return &cp, nil
}

func (m *memory) DeleteEpisode(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.episodes[id]; !ok {
		return ErrNotFound
	}
	delete(m.episodes, id)
	return nil
}

// ---- comments ----

func (m *memory) CreateComment(ctx context.Context, c *model.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.works[c.WorkID]; !ok {
		return fmt.Errorf("work %d: %w", c.WorkID, ErrNotFound)
	}
	author := m.summaryLocked(c.AccountID)
	if author == nil {
		return fmt.Errorf("account %d: %w", c.AccountID, ErrNotFound)
	}
	stamp(&c.CreatedAt, time.Now().UTC())
	c.ID = m.next("comments")
	cp := *c
	cp.Author = nil
	m.comments[c.ID] = &cp
	c.Author = author
	return nil
}

func (m *memory) ListComments(ctx context.Context, workID int64, page model.Page) ([]model.Comment, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.works[workID]; !ok {
		return nil, 0, ErrNotFound
	}
	out := make([]model.Comment, 0)
	for _, c := range m.comments {
		if c.WorkID == workID {
			cp := *c
			cp.Author = m.summaryLocked(c.AccountID)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return pageSlice(out, page), int64(len(out)), nil
}

// ---- favorites ----

// ToggleFavorite flips the pair under the write lock, which makes the
// existence check and the flip a single step.
func (m *memory) ToggleFavorite(ctx context.Context, accountID, workID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.works[workID]; !ok {
		return false, fmt.Errorf("work %d: %w", workID, ErrNotFound)
	}
	if _, ok := m.accounts[accountID]; !ok {
		return false, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	k := favoriteKey{accountID: accountID, workID: workID}
	if _, ok := m.favorites[k]; ok {
		delete(m.favorites, k)
		return false, nil
	}
	m.favorites[k] = time.Now().UTC()
	return true, nil
}

func (m *memory) IsFavorite(ctx context.Context, accountID, workID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.favorites[favoriteKey{accountID: accountID, workID: workID}]
	return ok, nil
}

func (m *memory) ListFavorites(ctx context.Context, accountID int64, page model.Page) ([]model.Work, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type fav struct {
		work model.Work
		at   time.Time
	}
	favs := make([]fav, 0)
	for k, at := range m.favorites {
		if k.accountID != accountID {
			continue
		}
		if w, ok := m.works[k.workID]; ok {
			favs = append(favs, fav{work: m.composeWorkLocked(w), at: at})
		}
	}
	sort.Slice(favs, func(i, j int) bool {
		if !favs[i].at.Equal(favs[j].at) {
			return favs[i].at.After(favs[j].at)
		}
		return favs[i].work.ID > favs[j].work.ID
	})
	works := make([]model.Work, len(favs))
	for i, f := range favs {
		works[i] = f.work
	}
	return pageSlice(works, page), int64(len(works)), nil
}

// ---- activity ----

func (m *memory) AppendActivity(ctx context.Context, a *model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp(&a.CreatedAt, time.Now().UTC())
	a.ID = m.next("activities")
	cp := *a
	cp.Account = nil
	m.activities = append(m.activities, cp)
	return nil
}

func (m *memory) RecentActivity(ctx context.Context, limit int) ([]model.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Activity, 0, limit)
	for i := len(m.activities) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.activities[i]
		if a.AccountID != nil {
			a.Account = m.summaryLocked(*a.AccountID)
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memory) Overview(ctx context.Context, since time.Time) (model.Overview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var o model.Overview
	o.TotalUsers = int64(len(m.accounts))
	for _, a := range m.accounts {
		if !a.CreatedAt.Before(since) {
			o.NewUsersLast30d++
		}
	}
	for _, w := range m.works {
		o.TotalWorks++
		o.TotalViews += w.Views
		switch w.Kind() {
		case model.KindVideo:
			o.TotalVideos++
		case model.KindNovel:
			o.TotalNovels++
		}
	}
	return o, nil
}

// pageSlice returns the page window of items; out-of-range pages are empty.
func pageSlice[T any](items []T, p model.Page) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
