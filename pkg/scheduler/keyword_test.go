package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
)

func TestCombinationsOrderAndCap(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		limit int
		want  [][]string
	}{
		{
			name:  "leftmost varies slowest",
			lists: [][]string{{"a", "b"}, {"1", "2", "3"}},
			limit: 20,
			want: [][]string{
				{"a", "1"}, {"a", "2"}, {"a", "3"},
				{"b", "1"}, {"b", "2"}, {"b", "3"},
			},
		},
		{
			name:  "cap truncates enumeration",
			lists: [][]string{{"a", "b"}, {"1", "2", "3"}},
			limit: 4,
			want:  [][]string{{"a", "1"}, {"a", "2"}, {"a", "3"}, {"b", "1"}},
		},
		{
			name:  "single list",
			lists: [][]string{{"x", "y"}},
			limit: 20,
			want:  [][]string{{"x"}, {"y"}},
		},
		{
			name:  "no parameters is one empty combination",
			lists: nil,
			limit: 20,
			want:  [][]string{{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, combinations(tt.lists, tt.limit))
		})
	}
}

func TestSplitKwarg(t *testing.T) {
	def := keyword.Definition{Params: []keyword.Param{
		{Name: "element"},
		{Name: "timeout"},
	}}

	tests := []struct {
		val       string
		wantKey   string
		wantValue string
		wantOK    bool
	}{
		{"timeout=5", "timeout", "5", true},
		{"timeout = 5", "timeout", " 5", true},
		{"element=${btn}", "element", "${btn}", true},
		{"//a[@id='x=1']", "", "", false}, // xpath, never a kwarg
		{"/hierarchy/node=1", "", "", false},
		{"(//a)[2]=x", "", "", false},
		{"unknown=7", "", "", false}, // undeclared key stays positional
		{"=5", "", "", false},
		{"plain", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			key, value, ok := splitKwarg(def, tt.val)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestCandidateLists(t *testing.T) {
	h := newHarness(t)
	h.rt.store.Set("btn", []string{"//btn1", "//btn2"})

	def := keyword.Definition{
		Params:     []keyword.Param{{Name: "name"}, {Name: "element"}},
		RawIndices: map[int]bool{0: true},
	}

	lists, err := h.sched.candidateLists(def, []string{"${btn}", "${btn}"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"${btn}"}, {"//btn1", "//btn2"}}, lists,
		"raw position stays literal, the other expands")

	_, err = h.sched.candidateLists(def, []string{"x", "${ghost}"})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ElementNotFound))
}

func TestBuildInvocation(t *testing.T) {
	h := newHarness(t)
	h.rt.store.Set("name", []string{"world"})
	h.rt.store.Set("btn", []string{"//btn"})

	def := keyword.Definition{
		Params: []keyword.Param{{Name: "element"}, {Name: "timeout"}},
	}

	t.Run("positional and kwargs with substitution", func(t *testing.T) {
		inv, err := h.sched.buildInvocation(def, []string{"hello ${name}", "timeout=${name}"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello world"}, inv.Args)
		assert.Equal(t, map[string]string{"timeout": "world"}, inv.Kwargs)
	})

	t.Run("undefined embedded variable", func(t *testing.T) {
		_, err := h.sched.buildInvocation(def, []string{"hello ${ghost}"}, nil)
		require.Error(t, err)
		assert.True(t, errcode.Is(err, errcode.ParamResolution))
	})

	t.Run("raw position skips split and substitution", func(t *testing.T) {
		rawDef := keyword.Definition{
			Params:     []keyword.Param{{Name: "name"}, {Name: "timeout"}},
			RawIndices: map[int]bool{0: true},
		}
		inv, err := h.sched.buildInvocation(rawDef, []string{"${ghost}", "timeout=3"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"${ghost}"}, inv.Args)
		assert.Equal(t, map[string]string{"timeout": "3"}, inv.Kwargs)
	})
}

func TestRunKeywordAdHoc(t *testing.T) {
	h := newHarness(t)
	h.rt.store.Set("btn", []string{"//btn"})

	h.register("fetch_value", func(context.Context, keyword.Runtime, *keyword.Invocation) (any, error) {
		return map[string]any{"value": 42}, nil
	}, keyword.Param{Name: "element", Type: keyword.TypeString})

	res, err := h.sched.RunKeyword(context.Background(), "fetch_value", []string{"${btn}"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, events.StatusPass, res.Status)
	assert.Equal(t, map[string]any{"value": 42}, res.Data)

	h.drain()
	assert.Equal(t, []events.Status{events.StatusRunning, events.StatusPass},
		h.rec.statuses(res.ExecutionID))

	evs := h.rec.byName("fetch_value")
	require.NotEmpty(t, evs)
	assert.Equal(t, h.sched.ExecutionID(), evs[0].ParentID)
}

func TestRunKeywordAdHocFailure(t *testing.T) {
	h := newHarness(t)

	h.register("broken", func(context.Context, keyword.Runtime, *keyword.Invocation) (any, error) {
		return nil, errors.New("device unreachable")
	})

	res, err := h.sched.RunKeyword(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Equal(t, events.StatusFail, res.Status)
	assert.Contains(t, res.Message, "device unreachable")

	_, err = h.sched.RunKeyword(context.Background(), "missing_keyword", nil)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.KeywordNotFound))
}
