package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/requestid"
	"github.com/animeverse/catalog-go/internal/storage"
)

type capturePublisher struct {
	events []model.Activity
	err    error
	ctxErr error
}

func (c *capturePublisher) PublishActivity(ctx context.Context, a model.Activity) error {
	c.ctxErr = ctx.Err()
	c.events = append(c.events, a)
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

func TestRecorderStoresAndPublishes(t *testing.T) {
	store := storage.NewMemory()
	pub := &capturePublisher{}
	rec := NewRecorder(store, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, model.ActivityCommentAdded, "commented", 0, map[string]interface{}{"workId": 7})

	recent, err := store.RecentActivity(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Type != model.ActivityCommentAdded || recent[0].AccountID != nil {
		t.Fatalf("RecentActivity() = %+v", recent)
	}
	if len(pub.events) != 1 || pub.events[0].ID != recent[0].ID {
		t.Errorf("published = %+v", pub.events)
	}
	if pub.ctxErr != nil {
		t.Errorf("publish saw canceled context: %v", pub.ctxErr)
	}
}

type failingActivities struct{}

func (failingActivities) AppendActivity(ctx context.Context, a *model.Activity) error {
	return errors.New("disk full")
}

func TestRecorderSwallowsFailures(t *testing.T) {
	pub := &capturePublisher{}
	NewRecorder(failingActivities{}, pub, nil).Record(context.Background(), model.ActivityUserLogin, "login", 1, nil)
	if len(pub.events) != 0 {
		t.Error("activity published although it was not stored")
	}

	pub = &capturePublisher{err: errors.New("nats down")}
	NewRecorder(storage.NewMemory(), pub, nil).Record(context.Background(), model.ActivityUserLogin, "login", 0, nil)
	if len(pub.events) != 1 {
		t.Error("publish not attempted")
	}
}

func TestNewEnvelope(t *testing.T) {
	ctx := requestid.With(context.Background(), "corr-1")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(ctx, "01HXYZ", model.Activity{ID: 3, Type: model.ActivityFavoriteChanged, CreatedAt: at})

	if env.Type != "catalog.activity.favorite_changed" || env.CorrelationID != "corr-1" || !env.OccurredAt.Equal(at) {
		t.Errorf("NewEnvelope() = %+v", env)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["id"] != "01HXYZ" || decoded["version"] != EventVersion {
		t.Errorf("envelope json = %s", b)
	}
}

func TestNewPublisherWithoutURL(t *testing.T) {
	p := NewPublisher("", nil)
	if err := p.PublishActivity(context.Background(), model.Activity{}); err != nil {
		t.Errorf("noop PublishActivity() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("noop Close() error = %v", err)
	}
}
