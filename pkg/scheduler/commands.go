package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/suite"
)

// drainCommands moves queued bus commands into the pending map. Pause and
// resume apply to the whole walk immediately; node-targeted commands wait in
// pending until the walk reaches their entity.
func (s *Scheduler) drainCommands() {
	for {
		cmd, ok := s.bus.PollCommand()
		if !ok {
			return
		}
		switch cmd.Kind {
		case events.CommandPause:
			if !s.paused {
				s.paused = true
				s.logger.Info("Execution paused by command")
			}
		case events.CommandResume:
			if s.paused {
				s.paused = false
				s.logger.Info("Execution resumed by command")
			}
		default:
			s.pending[cmd.EntityID] = append(s.pending[cmd.EntityID], cmd)
		}
	}
}

// suspensionPoint runs between keywords: consume queued commands, then block
// while paused. Returns ctx.Err() when the walk is canceled.
func (s *Scheduler) suspensionPoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.drainCommands()
	for s.paused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
		s.drainCommands()
	}
	return nil
}

// takeRetry pops one retry command queued for the node.
func (s *Scheduler) takeRetry(entityID string) bool {
	return s.take(entityID, events.CommandRetry)
}

// takeSkip pops one skip command queued for the node.
func (s *Scheduler) takeSkip(entityID string) bool {
	return s.take(entityID, events.CommandSkip)
}

func (s *Scheduler) take(entityID string, kind events.CommandKind) bool {
	cmds := s.pending[entityID]
	for i, cmd := range cmds {
		if cmd.Kind != kind {
			continue
		}
		rest := append(cmds[:i:i], cmds[i+1:]...)
		if len(rest) == 0 {
			delete(s.pending, entityID)
		} else {
			s.pending[entityID] = rest
		}
		return true
	}
	return false
}

// applyAdds splices keywords queued by add commands in after cur, in command
// order, so they run next in the module walk.
func (s *Scheduler) applyAdds(cur *suite.Keyword) {
	cmds := s.pending[cur.ID]
	if len(cmds) == 0 {
		return
	}
	rest := cmds[:0:0]
	after := cur
	for _, cmd := range cmds {
		if cmd.Kind != events.CommandAdd {
			rest = append(rest, cmd)
			continue
		}
		name, _ := cmd.Params["keyword"].(string)
		if name == "" {
			s.logger.Warn("Add command without keyword name ignored", "entity_id", cur.ID)
			continue
		}
		node := suite.NewKeywordNode(name, paramStrings(cmd.Params["params"]))
		after.InsertAfter(node)
		after = node
		s.logger.Info("Keyword added by command",
			"keyword", name, "after", cur.Name, "entity_id", node.ID)
	}
	if len(rest) == 0 {
		delete(s.pending, cur.ID)
	} else {
		s.pending[cur.ID] = rest
	}
}

// paramStrings coerces an add command's params payload into strings. JSON
// decoding hands us []any; direct publishers may use []string.
func paramStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
