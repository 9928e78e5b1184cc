package audit

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jmcleod/showcase/internal/uuid"
	"github.com/jmcleod/showcase/storage"
)

const analyticsTable = "analytics_events"

// AnalyticsSink receives a copy of every security event. Delivery is best
// effort: the Logger only logs a failed Send.
type AnalyticsSink interface {
	Send(ctx context.Context, e Entry) error
}

// AnalyticsEvent is the row shape of the analytics stream.
type AnalyticsEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Category   string         `json:"category"`
	SourceID   string         `json:"source_id"`
	SubjectID  string         `json:"subject_id,omitempty"`
	Page       string         `json:"page,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

func newAnalyticsEvent(e Entry) AnalyticsEvent {
	return AnalyticsEvent{
		ID:         uuid.NewOrdered(),
		EventType:  string(e.EventType),
		Category:   "security",
		SourceID:   e.ID,
		SubjectID:  e.SubjectID,
		Page:       e.URL,
		RemoteAddr: e.RemoteAddr,
		Detail:     e.Detail,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
	}
}

// RepositoryAnalytics appends analytics events to a table next to the
// security log.
type RepositoryAnalytics struct {
	repo storage.Repository
}

var _ AnalyticsSink = (*RepositoryAnalytics)(nil)

func NewRepositoryAnalytics(repo storage.Repository) *RepositoryAnalytics {
	return &RepositoryAnalytics{repo: repo}
}

func (a *RepositoryAnalytics) Send(ctx context.Context, e Entry) error {
	evt := newAnalyticsEvent(e)
	env, err := storage.MarshalRecord(evt, 1)
	if err != nil {
		return err
	}
	return a.repo.Put(ctx, analyticsTable, evt.ID, env)
}

// List returns stored analytics events in insertion order.
func (a *RepositoryAnalytics) List(ctx context.Context) ([]AnalyticsEvent, error) {
	ids, err := a.repo.List(ctx, analyticsTable)
	if err != nil {
		return nil, err
	}
	events := make([]AnalyticsEvent, 0, len(ids))
	for _, id := range ids {
		env, err := a.repo.Get(ctx, analyticsTable, id)
		if err != nil {
			continue
		}
		var evt AnalyticsEvent
		if err := storage.UnmarshalRecord(env, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	slices.SortFunc(events, func(a, b AnalyticsEvent) int {
		return strings.Compare(a.ID, b.ID)
	})
	return events, nil
}
