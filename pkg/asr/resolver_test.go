package asr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/messages"
)

var t0 = time.Unix(1_700_000_000, 0)

func hyp(seg, source, text string) messages.Hypothesis {
	return messages.NewHypothesis(seg, source, text, 0.8)
}

func TestSingleRecognizer(t *testing.T) {
	r := NewResolver(1, 0)

	a, ok := r.Submit(Primary, hyp("1", "ASR", "hello"), t0)
	require.True(t, ok)
	assert.Equal(t, Forward, a.Kind)
	assert.Equal(t, "hello", a.Hypothesis.Best())

	a, ok = r.Submit(Primary, hyp("2", "ASR", messages.Other), t0)
	require.True(t, ok)
	assert.Equal(t, NotUnderstood, a.Kind)
	assert.Equal(t, "2", a.SegmentID)
	assert.Zero(t, r.Pending())
}

func TestSegment42SecondaryRescuesPrimaryOther(t *testing.T) {
	r := NewResolver(2, time.Minute)

	_, ok := r.Submit(Primary, hyp("42", "ASR", messages.Other), t0.Add(1*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 1, r.Pending())

	a, ok := r.Submit(Secondary, hyp("42", "ASR2", "hello"), t0.Add(2*time.Second))
	require.True(t, ok)
	assert.Equal(t, Forward, a.Kind)
	assert.Equal(t, "42", a.SegmentID)
	assert.Equal(t, "hello", a.Hypothesis.Best())
	assert.Zero(t, r.Pending())
}

func TestExactlyOneActionForEveryInterleaving(t *testing.T) {
	primaries := []string{messages.Other, "hello"}
	secondaries := []string{messages.Other, "hola"}

	for _, p := range primaries {
		for _, s := range secondaries {
			for _, primaryFirst := range []bool{true, false} {
				r := NewResolver(2, time.Minute)
				ph := hyp("seg", "ASR", p)
				sh := hyp("seg", "ASR2", s)

				var actions []Action
				submit := func(role Role, h messages.Hypothesis, at time.Time) {
					if a, ok := r.Submit(role, h, at); ok {
						actions = append(actions, a)
					}
				}
				if primaryFirst {
					submit(Primary, ph, t0)
					submit(Secondary, sh, t0.Add(time.Second))
				} else {
					submit(Secondary, sh, t0)
					submit(Primary, ph, t0.Add(time.Second))
				}
				actions = append(actions, r.Evict(t0.Add(time.Hour))...)

				name := p + "/" + s
				require.Len(t, actions, 1, name)
				a := actions[0]
				switch {
				case p != messages.Other:
					assert.Equal(t, Forward, a.Kind, name)
					assert.Equal(t, p, a.Hypothesis.Best(), name)
				case s != messages.Other:
					assert.Equal(t, Forward, a.Kind, name)
					assert.Equal(t, s, a.Hypothesis.Best(), name)
				default:
					assert.Equal(t, NotUnderstood, a.Kind, name)
				}
				assert.Zero(t, r.Pending(), name)
			}
		}
	}
}

func TestLateArrivalIsDropped(t *testing.T) {
	r := NewResolver(2, time.Minute)

	a, ok := r.Submit(Primary, hyp("7", "ASR", "good"), t0)
	require.True(t, ok)
	assert.Equal(t, "good", a.Hypothesis.Best())

	_, ok = r.Submit(Secondary, hyp("7", "ASR2", "also good"), t0.Add(time.Second))
	assert.False(t, ok)
	assert.Zero(t, r.Pending())
	assert.Empty(t, r.Evict(t0.Add(time.Hour)))
}

func TestEvictionResolvesStaleEntries(t *testing.T) {
	r := NewResolver(2, 10*time.Second)

	r.Submit(Primary, hyp("p", "ASR", messages.Other), t0)
	r.Submit(Secondary, hyp("s", "ASR2", "hola"), t0.Add(5*time.Second))

	assert.Empty(t, r.Evict(t0.Add(9*time.Second)))

	actions := r.Evict(t0.Add(11 * time.Second))
	require.Len(t, actions, 1)
	assert.Equal(t, "p", actions[0].SegmentID)
	assert.Equal(t, NotUnderstood, actions[0].Kind)
	assert.True(t, actions[0].Evicted)

	actions = r.Evict(t0.Add(16 * time.Second))
	require.Len(t, actions, 1)
	assert.Equal(t, Forward, actions[0].Kind)
	assert.Equal(t, "hola", actions[0].Hypothesis.Best())

	_, ok := r.Submit(Primary, hyp("s", "ASR", "late"), t0.Add(17*time.Second))
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	r := NewResolver(2, 0)
	r.Submit(Secondary, hyp("1", "ASR2", "x"), t0)
	r.Reset()
	assert.Zero(t, r.Pending())
	assert.True(t, r.Dual())
}

func TestVeryLateArrivalNeverResolvesTwice(t *testing.T) {
	r := NewResolver(2, 10*time.Second)

	var actions []Action
	if a, ok := r.Submit(Primary, hyp("s", "ASR", "hello"), t0); ok {
		actions = append(actions, a)
	}
	for i := 1; i <= 120; i++ {
		actions = append(actions, r.Evict(t0.Add(time.Duration(i)*time.Second))...)
	}

	late := t0.Add(120 * time.Second)
	_, ok := r.Submit(Secondary, hyp("s", "ASR2", "hallo"), late)
	assert.False(t, ok)
	assert.Zero(t, r.Pending())
	actions = append(actions, r.Evict(late.Add(11*time.Second))...)

	require.Len(t, actions, 1)
	assert.Equal(t, "hello", actions[0].Hypothesis.Best())

	r.Reset()
	a, ok := r.Submit(Primary, hyp("s", "ASR", "again"), late)
	require.True(t, ok)
	assert.Equal(t, Forward, a.Kind)
}
