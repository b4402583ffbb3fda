package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

// keywordOutcome captures the terminal result of one keyword node run.
type keywordOutcome struct {
	status  events.Status
	message string
	data    any
	err     error
}

func (o keywordOutcome) failed() bool {
	return o.status == events.StatusFail || o.status == events.StatusError
}

// ExecutionResult is the outcome of an ad-hoc single-keyword run, returned
// by the action endpoint.
type ExecutionResult struct {
	ExecutionID string        `json:"execution_id"`
	Status      events.Status `json:"status"`
	Message     string        `json:"message,omitempty"`
	Data        any           `json:"data,omitempty"`
}

// RunKeyword executes one keyword outside a suite walk. The node is
// standalone; commands are not consumed. The returned error is the keyword's
// terminal error, carrying its code for the API surface.
func (s *Scheduler) RunKeyword(ctx context.Context, name string, params []string) (*ExecutionResult, error) {
	kw := suite.NewKeywordNode(name, params)
	kw.ParentID = s.executionID

	out := s.executeKeyword(ctx, kw, false)
	res := &ExecutionResult{
		ExecutionID: kw.ID,
		Status:      out.status,
		Message:     out.message,
		Data:        out.data,
	}
	return res, out.err
}

// ────────────────────────────────────────────────────────────
// Keyword node execution
// ────────────────────────────────────────────────────────────

// runKeywordNode runs one node to a settled terminal state, honoring retry
// commands queued for it. A retry resets the node and re-enters execution
// until the attempt limit is reached.
func (s *Scheduler) runKeywordNode(ctx context.Context, kw *suite.Keyword, dry bool) keywordOutcome {
	for {
		out := s.executeKeyword(ctx, kw, dry)

		// Suspension point: a queued retry re-enters the keyword; anything
		// else stays queued for the module loop.
		s.drainCommands()
		if !out.failed() || !s.takeRetry(kw.ID) {
			return out
		}
		if kw.AttemptCount >= kw.MaxAttempts {
			s.logger.Warn("Retry ignored, attempt limit reached",
				"keyword", kw.Name, "attempts", kw.AttemptCount, "max_attempts", kw.MaxAttempts)
			return out
		}

		s.logger.Info("Retrying keyword by command",
			"keyword", kw.Name, "attempt", kw.AttemptCount+1)
		s.publish(events.Event{
			EntityType: events.EntityKeyword,
			EntityID:   kw.ID,
			Name:       kw.Name,
			Status:     events.StatusRetrying,
			ParentID:   kw.ParentID,
			Extra:      map[string]any{"attempt": kw.AttemptCount + 1},
		})
		kw.State = events.StatusNotRun
		kw.FailureReason = ""
	}
}

// executeKeyword performs one full keyword attempt: lookup, candidate
// expansion, combination enumeration, invocation. Element-family errors
// (E02xx, X0201) advance to the next combination; anything else fails fast.
func (s *Scheduler) executeKeyword(ctx context.Context, kw *suite.Keyword, dry bool) keywordOutcome {
	kw.AttemptCount++
	kw.State = events.StatusRunning
	start := time.Now()
	s.publish(events.Event{
		EntityType: events.EntityKeyword,
		EntityID:   kw.ID,
		Name:       kw.Name,
		Status:     events.StatusRunning,
		ParentID:   kw.ParentID,
		Args:       kw.Params,
		Extra:      map[string]any{"attempt": kw.AttemptCount},
	})

	def, ok := s.rt.Keywords().Lookup(kw.Name)
	if !ok {
		err := errcode.Newf(errcode.KeywordNotFound, "Keyword not found: %s", kw.Name).
			WithDetails(kw.Name)
		return s.finishKeyword(kw, start, kw.Params, keywordOutcome{
			status: events.StatusFail, message: err.Error(), err: err,
		})
	}

	if dry {
		return s.verifyKeyword(kw, def, start)
	}

	candidates, err := s.candidateLists(def, kw.Params)
	if err != nil {
		return s.finishKeyword(kw, start, kw.Params, keywordOutcome{
			status: events.StatusFail, message: err.Error(), err: err,
		})
	}

	combos := combinations(candidates, s.combinationCap)
	logger := s.logger.With("keyword", kw.Name, "combinations", len(combos))
	for i, combo := range combos {
		inv, err := s.buildInvocation(def, combo, kw.Params)
		if err != nil {
			if errcode.IsElementFamily(err) {
				logger.Debug("Combination rejected during resolution", "index", i, "error", err)
				continue
			}
			return s.finishKeyword(kw, start, combo, keywordOutcome{
				status: events.StatusFail, message: err.Error(), err: err,
			})
		}

		data, err := def.Fn(ctx, s.rt, inv)
		if err == nil {
			return s.finishKeyword(kw, start, combo, keywordOutcome{
				status: events.StatusPass, data: data,
			})
		}
		if errcode.IsElementFamily(err) {
			logger.Debug("Combination failed, trying next", "index", i, "error", err)
			continue
		}
		return s.finishKeyword(kw, start, combo, keywordOutcome{
			status: events.StatusFail, message: err.Error(), err: err,
		})
	}

	err = errcode.Newf(errcode.ElementExhausted,
		"Keyword %q failed after %d attempts", kw.Name, len(combos)).
		WithMeta("attempts", len(combos))
	return s.finishKeyword(kw, start, kw.Params, keywordOutcome{
		status: events.StatusFail, message: err.Error(), err: err,
	})
}

// finishKeyword settles the node state and publishes the terminal event with
// timing. args carries the combination that ran (or the declared params when
// none did).
func (s *Scheduler) finishKeyword(kw *suite.Keyword, start time.Time, args []string, out keywordOutcome) keywordOutcome {
	end := time.Now()
	kw.State = out.status
	kw.FailureReason = out.message

	ev := events.Event{
		EntityType: events.EntityKeyword,
		EntityID:   kw.ID,
		Name:       kw.Name,
		Status:     out.status,
		Message:    out.message,
		ParentID:   kw.ParentID,
		Args:       args,
		StartTime:  &start,
		EndTime:    &end,
		Elapsed:    end.Sub(start).Seconds(),
	}
	if out.err != nil {
		ev.Extra = map[string]any{"error": errcode.PayloadOf(out.err)}
	}
	s.publish(ev)

	if out.failed() {
		s.logger.Warn("Keyword failed", "keyword", kw.Name, "error", out.message)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Parameter resolution
// ────────────────────────────────────────────────────────────

// candidateLists expands each parameter into its candidate values. An exact
// ${name} reference yields the element's full stored list; raw positions and
// plain values stay single candidates. An exact reference to an unknown or
// empty element is E0201.
func (s *Scheduler) candidateLists(def keyword.Definition, params []string) ([][]string, error) {
	store := s.rt.Elements()
	lists := make([][]string, len(params))
	for i, p := range params {
		if def.RawIndices[i] {
			lists[i] = []string{p}
			continue
		}
		if name, ok := element.VarName(p); ok {
			vals := store.Get(name)
			if len(vals) == 0 {
				return nil, errcode.Newf(errcode.ElementNotFound,
					"Element %q has no stored values", name).WithDetails(name)
			}
			lists[i] = vals
			continue
		}
		lists[i] = []string{p}
	}
	return lists, nil
}

// buildInvocation splits one combination into positional and keyword
// arguments, substituting embedded ${...} references. Raw positions skip
// both the split and the substitution.
func (s *Scheduler) buildInvocation(def keyword.Definition, combo, raw []string) (*keyword.Invocation, error) {
	store := s.rt.Elements()
	inv := &keyword.Invocation{
		Kwargs: make(map[string]string),
		Raw:    raw,
	}
	for i, val := range combo {
		if def.RawIndices[i] {
			inv.Args = append(inv.Args, val)
			continue
		}
		if key, kv, ok := splitKwarg(def, val); ok {
			resolved, err := store.Substitute(kv)
			if err != nil {
				return nil, err
			}
			inv.Kwargs[key] = resolved
			continue
		}
		resolved, err := store.Substitute(val)
		if err != nil {
			return nil, err
		}
		inv.Args = append(inv.Args, resolved)
	}
	return inv, nil
}

// splitKwarg reports whether val is a key=value argument: it must contain
// '=', not start with a locator prefix ('/', '//' or '('), and name a
// declared parameter. Anything else stays positional, so XPath predicates
// like //a[@id='x'] never split.
func splitKwarg(def keyword.Definition, val string) (key, value string, ok bool) {
	if strings.HasPrefix(val, "/") || strings.HasPrefix(val, "(") {
		return "", "", false
	}
	eq := strings.Index(val, "=")
	if eq <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(val[:eq])
	for _, p := range def.Params {
		if p.Name == key {
			return key, val[eq+1:], true
		}
	}
	return "", "", false
}

// combinations enumerates the cartesian product of the candidate lists in
// deterministic order (leftmost parameter varies slowest), stopping at
// limit. Zero lists yield one empty combination.
func combinations(lists [][]string, limit int) [][]string {
	if limit <= 0 {
		limit = DefaultCombinationCap
	}
	out := make([][]string, 0, 1)
	idx := make([]int, len(lists))
	for {
		combo := make([]string, len(lists))
		for i, l := range lists {
			combo[i] = l[idx[i]]
		}
		out = append(out, combo)
		if len(out) >= limit {
			return out
		}
		i := len(lists) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(lists[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
