// Package assessments keeps an audit log of completed risk assessments and
// publishes each one as an event.
package assessments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LukasBures/olynthus/internal/events"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/safeguard"
)

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrStoreUnavailable is returned when no store is configured.
var ErrStoreUnavailable = errors.New("assessments: store unavailable")

// Assessment is one completed assessment.
type Assessment struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Chain     string         `json:"chain"`
	Network   string         `json:"network"`
	Subject   string         `json:"subject"`
	TxType    string         `json:"tx_type,omitempty"`
	Result    risk.Verdict   `json:"result"`
	Counts    risk.Counts    `json:"counts"`
	Findings  []risk.Finding `json:"findings"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists assessments.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	// List returns the most recent assessments first. An empty subject
	// lists all subjects.
	List(ctx context.Context, subject string, limit int) ([]*Assessment, error)
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Service records completed assessments and publishes them. It is the
// engine's Observer.
type Service struct {
	store  Store
	sink   events.Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a service. sink may be nil.
func NewService(store Store, sink events.Sink) *Service {
	return &Service{
		store:  store,
		sink:   sink,
		logger: logging.Component(nil, "assessments"),
		now:    time.Now,
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = logging.Component(l, "assessments")
	return s
}

// Observe records o. Storage and publish failures are logged, never
// returned: the caller has already answered its client.
func (s *Service) Observe(ctx context.Context, o safeguard.Outcome) {
	a := &Assessment{
		ID:        uuid.NewString(),
		Kind:      o.Kind,
		Chain:     string(o.Chain),
		Network:   string(o.Network),
		Subject:   strings.ToLower(o.Subject),
		TxType:    o.TxType,
		Result:    o.Profiles.Summary.Result,
		Findings:  o.Profiles.Data,
		CreatedAt: s.now().UTC(),
	}
	if o.Profiles.Summary.Counts != nil {
		a.Counts = *o.Profiles.Summary.Counts
	}
	if a.Findings == nil {
		a.Findings = []risk.Finding{}
	}

	metrics.AssessmentsTotal.WithLabelValues(a.Kind, string(a.Result)).Inc()
	for _, f := range a.Findings {
		metrics.FindingsTotal.WithLabelValues(string(f.Level), string(f.Kind)).Inc()
	}

	if s.store != nil {
		if err := s.store.Record(ctx, a); err != nil {
			s.logger.Warn("record assessment failed", "id", a.ID, "error", err)
		}
	}
	if s.sink != nil {
		err := s.sink.Publish(ctx, events.Event{
			Type:    events.TypeAssessment,
			Time:    a.CreatedAt,
			Subject: a.Subject,
			Chain:   a.Chain,
			Result:  string(a.Result),
			Data:    a,
		})
		if err != nil {
			s.logger.Debug("publish assessment failed", "id", a.ID, "error", err)
		}
	}
}

// List returns recent assessments, optionally for one subject.
func (s *Service) List(ctx context.Context, subject string, limit int) ([]*Assessment, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}
	return s.store.List(ctx, strings.ToLower(subject), ClampLimit(limit))
}
