package user

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestColorsAreStablePerParticipant(t *testing.T) {
	cg := NewColorGenerator()

	a := cg.Assign("a")
	b := cg.Assign("b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, cg.Assign("a"), a)
	assert.Equal(t, cg.Lookup("b"), b)
	assert.Equal(t, cg.Lookup("c"), "")
	assert.Equal(t, len(a), 7)
}

func TestSessionTokenResume(t *testing.T) {
	sm := NewSessionManager(DefaultSessionLimits())

	s := sm.Create()
	assert.NotEqual(t, s.UserID, "")
	assert.NotEqual(t, s.SessionToken, "")
	assert.NotEqual(t, s.UserID, s.SessionToken)

	resumed, ok := sm.Resume(s.SessionToken)
	assert.Equal(t, ok, true)
	assert.Equal(t, resumed.UserID, s.UserID)

	_, ok = sm.Resume("bogus")
	assert.Equal(t, ok, false)

	sm.Remove(s.UserID)
	_, ok = sm.Resume(s.SessionToken)
	assert.Equal(t, ok, false)
}

func TestSessionCleanup(t *testing.T) {
	limits := DefaultSessionLimits()
	limits.IdleTimeout = time.Minute
	sm := NewSessionManager(limits)

	s := sm.Create()
	sm.Create()

	assert.Equal(t, sm.Cleanup(time.Now()), 0)
	assert.Equal(t, sm.Cleanup(time.Now().Add(2*time.Minute)), 2)
	assert.Equal(t, sm.Count(), 0)

	_, ok := sm.Resume(s.SessionToken)
	assert.Equal(t, ok, false)
}

func TestLastPresence(t *testing.T) {
	sm := NewSessionManager(DefaultSessionLimits())
	s := sm.Create()

	last, ok := sm.LastPresence(s.UserID)
	assert.Equal(t, ok, true)
	assert.Equal(t, last.IsZero(), true)

	now := time.Now()
	sm.UpdateLastPresence(s.UserID, now)
	last, _ = sm.LastPresence(s.UserID)
	assert.Equal(t, last, now)
}
