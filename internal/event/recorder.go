// internal/event/recorder.go
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/animeverse/catalog-go/internal/metrics"
	"github.com/animeverse/catalog-go/internal/model"
)

// ActivityStore is the slice of storage the Recorder writes to.
type ActivityStore interface {
	AppendActivity(ctx context.Context, a *model.Activity) error
}

// publishTimeout bounds how long a request waits on the event stream.
const publishTimeout = 2 * time.Second

// Recorder appends activity entries to the store and streams them.
// Neither step can fail the operation being recorded: errors are logged.
type Recorder struct {
	store   ActivityStore
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates a Recorder. pub and m may be nil.
func NewRecorder(store ActivityStore, pub Publisher, m *metrics.Metrics) *Recorder {
	if pub == nil {
		pub = noop{}
	}
	return &Recorder{store: store, pub: pub, metrics: m, now: time.Now}
}

// Record stores and publishes one activity entry.
// Parameters:
//   - ctx: Request context; the writes are detached from its cancellation
//   - typ: Activity type
//   - description: Human-readable summary
//   - accountID: Acting account, 0 for none
//   - metadata: Optional structured details
func (r *Recorder) Record(ctx context.Context, typ model.ActivityType, description string, accountID int64, metadata map[string]interface{}) {
	ctx = context.WithoutCancel(ctx)
	a := model.Activity{
		Type:        typ,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   r.now().UTC(),
	}
	if accountID != 0 {
		a.AccountID = &accountID
	}

	if err := r.store.AppendActivity(ctx, &a); err != nil {
		slog.WarnContext(ctx, "failed to record activity", "type", typ, "account_id", accountID, "error", err)
		if r.metrics != nil {
			r.metrics.ActivityFailTotal.WithLabelValues(string(typ)).Inc()
		}
		return
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.pub.PublishActivity(pctx, a); err != nil {
		slog.WarnContext(ctx, "failed to publish activity event", "type", typ, "activity_id", a.ID, "error", err)
	}
}
