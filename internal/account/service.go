// internal/account/service.go
// Package account implements registration, login, bearer authentication,
// profiles and the administrative account and statistics operations.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/animeverse/catalog-go/internal/auth"
	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
)

// Limits on account fields and the admin dashboard.
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72 // bcrypt ignores anything longer
	RecentActivity    = 20
	TopWorks          = 10
	NewUserWindow     = 30 * 24 * time.Hour
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

// Service is the account use-case layer.
type Service struct {
	store    storage.Store
	tokens   *auth.Tokens
	activity *event.Recorder
	now      func() time.Time
}

// NewService creates an account Service.
func NewService(store storage.Store, tokens *auth.Tokens, activity *event.Recorder) *Service {
	return &Service{store: store, tokens: tokens, activity: activity, now: time.Now}
}

// Session is returned by Register and Login.
type Session struct {
	Token   string        `json:"token"`
	Account model.Account `json:"user"`
}

// Profile is an account with its engagement counters.
type Profile struct {
	model.Account
	Stats model.AccountStats `json:"stats"`
}

// AccountList is a page of accounts.
type AccountList struct {
	Accounts   []model.Account  `json:"users"`
	Pagination model.Pagination `json:"pagination"`
}

// ProfileUpdate is a self-service change; nil fields are left unchanged.
type ProfileUpdate struct {
	Username  *string
	Email     *string
	AvatarURL *string
}

// AccountUpdate is an administrative change; nil fields are left unchanged.
type AccountUpdate struct {
	Username *string
	Email    *string
	Role     *string
}

// Register creates a user account and signs it in.
func (s *Service) Register(ctx context.Context, username, email, password string) (*Session, error) {
	a, err := s.create(ctx, username, email, password, model.RoleUser)
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, model.ActivityUserRegistered,
		fmt.Sprintf("New user %s registered", a.Username),
		a.ID, map[string]interface{}{"username": a.Username})
	return s.session(a)
}

// CreateAdmin creates an account holding the admin role. It is the
// bootstrap path used by the command line tooling.
func (s *Service) CreateAdmin(ctx context.Context, username, email, password string) (*model.Account, error) {
	return s.create(ctx, username, email, password, model.RoleAdmin)
}

func (s *Service) create(ctx context.Context, username, email, password string, role model.Role) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, errordefs.Validation("username must be 3-50 letters, digits or underscores")
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, errordefs.Validation("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	a := &model.Account{Username: username, Email: email, PasswordHash: hash, Role: role}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errordefs.New(errordefs.CAT_CONFLICT, "username or email already exists", "")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// Login checks the credentials and issues a token. Unknown email and wrong
// password fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	invalid := errordefs.New(errordefs.CAT_AUTHN, "invalid email or password", "")

	a, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	ok, err := auth.CheckPassword(a.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid
	}

	s.activity.Record(ctx, model.ActivityUserLogin,
		fmt.Sprintf("User %s logged in", a.Username), a.ID, nil)
	return s.session(a)
}

func (s *Service) session(a *model.Account) (*Session, error) {
	token, err := s.tokens.Issue(*a)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, Account: *a}, nil
}

// Authenticate verifies a bearer token and reloads its account, so deleted
// accounts and role changes take effect on the next request.
func (s *Service) Authenticate(ctx context.Context, raw string) (*model.Account, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	id, err := claims.AccountID()
	if err != nil {
		return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token subject", "")
	}
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.New(errordefs.CAT_AUTHN, "account no longer exists", "")
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Me returns the account's profile with its counters.
func (s *Service) Me(ctx context.Context, id int64) (*Profile, error) {
	return s.profile(ctx, id)
}

// UpdateProfile applies a self-service change to actor's account.
func (s *Service) UpdateProfile(ctx context.Context, actor model.Account, in ProfileUpdate) (*model.Account, error) {
	patch, err := identityPatch(in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if in.AvatarURL != nil {
		v := strings.TrimSpace(*in.AvatarURL)
		patch.AvatarURL = &v
	}
	return s.update(ctx, actor.ID, patch)
}

// ListAccounts pages accounts newest first. search matches username or
// email; an unknown role is ignored.
func (s *Service) ListAccounts(ctx context.Context, search, role string, page model.Page) (*AccountList, error) {
	q := model.AccountQuery{Search: strings.TrimSpace(search), Page: page.Normalize()}
	if r, ok := model.ParseRole(role); ok {
		q.Role = r
	}
	accounts, total, err := s.store.ListAccounts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return &AccountList{Accounts: accounts, Pagination: model.Paginate(q.Page, total)}, nil
}

// GetAccount returns any account's profile with its counters.
func (s *Service) GetAccount(ctx context.Context, id int64) (*Profile, error) {
	return s.profile(ctx, id)
}

// UpdateAccount applies an administrative change.
func (s *Service) UpdateAccount(ctx context.Context, id int64, in AccountUpdate) (*model.Account, error) {
	patch, err := identityPatch(in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if in.Role != nil {
		r, ok := model.ParseRole(strings.TrimSpace(*in.Role))
		if !ok {
			return nil, errordefs.Validation("role must be either user or admin")
		}
		patch.Role = &r
	}
	return s.update(ctx, id, patch)
}

// DeleteAccount removes an account and everything it owns. Admins cannot
// delete themselves.
func (s *Service) DeleteAccount(ctx context.Context, actor model.Account, id int64) error {
	if actor.ID == id {
		return errordefs.Validation("cannot delete your own account")
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return accountErr(err, "delete account")
	}
	return nil
}

// Stats builds the admin dashboard.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	overview, err := s.store.Overview(ctx, s.now().UTC().Add(-NewUserWindow))
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	recent, err := s.store.RecentActivity(ctx, RecentActivity)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	top, _, err := s.store.ListWorks(ctx, model.WorkQuery{
		Order: model.OrderPopularity,
		Page:  model.Page{Number: 1, Size: TopWorks},
	})
	if err != nil {
		return nil, fmt.Errorf("top works: %w", err)
	}
	return &model.Stats{Overview: overview, RecentActivity: recent, TopWorks: top}, nil
}

func (s *Service) profile(ctx context.Context, id int64) (*Profile, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, accountErr(err, "get account")
	}
	stats, err := s.store.AccountStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("account stats: %w", err)
	}
	return &Profile{Account: *a, Stats: stats}, nil
}

func (s *Service) update(ctx context.Context, id int64, patch model.AccountPatch) (*model.Account, error) {
	a, err := s.store.UpdateAccount(ctx, id, patch)
	if err != nil {
		return nil, accountErr(err, "update account")
	}
	return a, nil
}

// identityPatch validates the optional username and email of an update.
// Empty values are treated as absent.
func identityPatch(username, email *string) (model.AccountPatch, error) {
	var p model.AccountPatch
	if username != nil && strings.TrimSpace(*username) != "" {
		v := strings.TrimSpace(*username)
		if !usernamePattern.MatchString(v) {
			return p, errordefs.Validation("username must be 3-50 letters, digits or underscores")
		}
		p.Username = &v
	}
	if email != nil && strings.TrimSpace(*email) != "" {
		v, err := normalizeEmail(*email)
		if err != nil {
			return p, err
		}
		p.Email = &v
	}
	return p, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", errordefs.Validation("email must be a valid address")
	}
	return strings.ToLower(raw), nil
}

func accountErr(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errordefs.NotFound("user not found")
	case errors.Is(err, storage.ErrConflict):
		return errordefs.New(errordefs.CAT_CONFLICT, "username or email already exists", "")
	}
	return fmt.Errorf("%s: %w", op, err)
}
