package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/preload"
	"github.com/g-flame/airlink-panel/internal/router"
)

const recordTimeout = 5 * time.Second

// Recorder turns router results and preload events into telemetry events
// for one browsing session. Either sink or hub may be nil.
type Recorder struct {
	sink    Sink
	hub     *Hub
	session string
	logger  *zap.Logger
}

func NewRecorder(sink Sink, hub *Hub, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sink: sink, hub: hub, session: uuid.New().String(), logger: logger}
}

// Session returns the session id stamped on every event.
func (r *Recorder) Session() string { return r.session }

// Navigation records a router result. Failed navigations are recorded as
// failures.
func (r *Recorder) Navigation(res router.Result) {
	e := Event{
		Kind:       KindNavigation,
		Path:       res.Path,
		Source:     res.Source,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		e.Kind = KindFailure
		e.Error = res.Err.Error()
	}
	r.record(e)
}

// Preload records a fragment stored by the preloader.
func (r *Recorder) Preload(ev preload.Event) {
	r.record(Event{Kind: KindPreload, Path: ev.Path, Source: ev.Source, Size: ev.Size})
}

func (r *Recorder) record(e Event) {
	e.Session = r.session
	e = e.withDefaults(time.Now())
	if r.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := r.sink.Record(ctx, e)
		cancel()
		if err != nil {
			r.logger.Warn("telemetry: record failed", zap.String("path", e.Path), zap.Error(err))
		}
	}
	if r.hub != nil {
		r.hub.Broadcast(e)
	}
}
