package violation

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/proctor"
)

// Recorded is called after violations from one frame were stored
type Recorded func(sess Session, recorded []Violation)

// Recorder persists engine verdicts. It implements proctor.Reporter.
type Recorder struct {
	store  *Store
	hooks  []Recorded
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store. hooks run after every
// successful write, in order.
func NewRecorder(store *Store, hooks ...Recorded) *Recorder {
	return &Recorder{
		store:  store,
		hooks:  hooks,
		logger: log.Component("recorder"),
	}
}

// Report stores every violation the verdict carries
func (r *Recorder) Report(ctx context.Context, v proctor.Verdict, screenshot []byte) error {
	entries := Entries(v)
	if len(entries) == 0 {
		return nil
	}

	sess, recorded, err := r.store.Record(ctx, v.CandidateID, entries, screenshot)
	if err != nil {
		return err
	}

	for _, rec := range recorded {
		r.logger.Warn("violation recorded",
			"candidate", v.CandidateID,
			"reason", rec.Reason,
			"total", sess.Violations,
			"max", MaxViolations)
	}
	for _, hook := range r.hooks {
		hook(sess, recorded)
	}
	return nil
}

var _ proctor.Reporter = (*Recorder)(nil)
