package scheduler

import (
	"context"
	"time"

	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

// DryRun walks the same tree as Run, publishing the same lifecycle events,
// but only verifies that every keyword exists and its parameters resolve.
// Drivers are never invoked.
func (s *Scheduler) DryRun(ctx context.Context, ts *suite.Suite) (*Summary, error) {
	return s.walk(ctx, ts, true)
}

// verifyKeyword is the dry-run counterpart of combination enumeration: the
// candidate lists must expand and the first combination must substitute
// cleanly. Failures surface with the same codes a real run would produce
// (E0402 from lookup, E0201 from expansion, E0702 from substitution).
func (s *Scheduler) verifyKeyword(kw *suite.Keyword, def keyword.Definition, start time.Time) keywordOutcome {
	candidates, err := s.candidateLists(def, kw.Params)
	if err != nil {
		return s.finishKeyword(kw, start, kw.Params, keywordOutcome{
			status: events.StatusFail, message: err.Error(), err: err,
		})
	}
	combos := combinations(candidates, s.combinationCap)
	if _, err := s.buildInvocation(def, combos[0], kw.Params); err != nil {
		return s.finishKeyword(kw, start, kw.Params, keywordOutcome{
			status: events.StatusFail, message: err.Error(), err: err,
		})
	}
	return s.finishKeyword(kw, start, kw.Params, keywordOutcome{status: events.StatusPass})
}
