package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whiteboard/internal/clock"
	"whiteboard/internal/handlers"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/protocol"
	"whiteboard/internal/room"
	"whiteboard/internal/user"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/mux"
)

type testServer struct {
	http  *httptest.Server
	rooms *room.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	limits := middleware.DefaultRateLimit()
	sessions := user.NewSessionManager(user.DefaultSessionLimits())
	rooms := room.NewManager(nil)
	router := handlers.NewMessageRouter(object.NewValidator(), limits, sessions, clock.Real())
	srv := NewServer([]string{"https://board.example"}, limits, sessions, rooms, router)

	r := mux.NewRouter()
	r.HandleFunc("/ws", srv.HandleWebSocket)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, rooms: rooms}
}

func (s *testServer) url(room string) string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?room=" + room
}

func dial(t *testing.T, url, token string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func snapshot(c *Client) map[string]*object.GraphicObject {
	s, _ := c.Snapshot(context.Background())
	return s
}

func TestHandshake(t *testing.T) {
	s := newTestServer(t)
	c := dial(t, s.url("abc"), "")

	assert.NotEqual(t, c.UserID(), "")
	assert.NotEqual(t, c.Token(), "")
	assert.NotEqual(t, c.Color(), "")

	rm, ok := s.rooms.GetRoom("abc")
	assert.Equal(t, ok, true)
	eventually(t, func() bool { return rm.ConnectionCount() == 1 })
}

func TestTokenResumesIdentity(t *testing.T) {
	s := newTestServer(t)
	first := dial(t, s.url("abc"), "")
	id, token := first.UserID(), first.Token()
	first.Close()

	again := dial(t, s.url("abc"), token)
	assert.Equal(t, again.UserID(), id)

	fresh := dial(t, s.url("abc"), "not-a-token")
	assert.NotEqual(t, fresh.UserID(), id)
}

func TestJoinReceivesSnapshot(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s.url("abc"), "")

	o := object.New(object.KindRectangle, object.Point{X: 10, Y: 10})
	o.Version = 1
	assert.Equal(t, a.Put(context.Background(), o), nil)

	rm, _ := s.rooms.GetRoom("abc")
	eventually(t, func() bool { return rm.ObjectCount() == 1 })

	b := dial(t, s.url("abc"), "")
	got := snapshot(b)[o.ID]
	assert.Equal(t, got.Geometry, o.Geometry)
}

func TestMutationsReachOtherClients(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s.url("abc"), "")
	b := dial(t, s.url("abc"), "")

	changed := make(chan struct{}, 16)
	defer b.Subscribe(func() { changed <- struct{}{} })()

	ctx := context.Background()
	o := object.New(object.KindEllipse, object.Point{X: 5, Y: 5})
	o.Version = 1
	a.Put(ctx, o)
	eventually(t, func() bool { return snapshot(b)[o.ID] != nil })

	a.Delete(ctx, o.ID)
	eventually(t, func() bool { return snapshot(b)[o.ID] == nil })

	o.Version = 2
	a.Put(ctx, o)
	eventually(t, func() bool { return len(snapshot(b)) == 1 })
	a.Clear(ctx)
	eventually(t, func() bool { return len(snapshot(b)) == 0 })

	assert.NotEqual(t, len(changed), 0)
}

func TestLocalReplicaIsOptimistic(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s.url("abc"), "")

	o := object.New(object.KindTriangle, object.Point{})
	o.Version = 1
	a.Put(context.Background(), o)

	// visible locally before any round trip
	assert.NotEqual(t, snapshot(a)[o.ID], nil)
}

func TestStaleMergeIgnored(t *testing.T) {
	c := &Client{objects: make(map[string]*object.GraphicObject)}

	newer := object.New(object.KindRectangle, object.Point{})
	newer.Version = 6
	older := newer.Clone()
	older.Version = 5
	older.Geometry.W = 1

	assert.Equal(t, c.merge(newer, 0), true)
	assert.Equal(t, c.merge(older, 0), false)
	assert.Equal(t, c.objects[newer.ID].Version, uint64(6))

	same := newer.Clone()
	same.Geometry.W = 7
	assert.Equal(t, c.merge(same, 0), true)
	assert.Equal(t, c.objects[newer.ID].Geometry.W, 7.0)
}

func TestPresenceAcrossClients(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s.url("abc"), "")
	b := dial(t, s.url("abc"), "")

	events := make(chan presence.Event, 16)
	defer b.Presence().Subscribe(func(e presence.Event) { events <- e })()

	cursor := object.Point{X: 3, Y: 4}
	assert.Equal(t, a.Presence().UpdatePresence(presence.Record{Cursor: &cursor}), nil)

	select {
	case e := <-events:
		assert.Equal(t, e.Kind, presence.EventPresence)
		assert.Equal(t, e.Participant, a.UserID())
		assert.Equal(t, e.Color, a.Color())
		assert.Equal(t, *e.Presence.Cursor, cursor)
	case <-time.After(5 * time.Second):
		t.Fatal("presence not delivered")
	}

	a.Close()
	for {
		select {
		case e := <-events:
			if e.Kind == presence.EventLeave {
				assert.Equal(t, e.Participant, a.UserID())
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("leave not delivered")
		}
	}
}

func TestInvalidRoomRefused(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.http.URL + "/ws?room=" + "bad%20code")
	assert.Equal(t, err, nil)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://board.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, check(req), true)

	req.Header.Set("Origin", "https://board.example")
	assert.Equal(t, check(req), true)

	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, check(req), false)

	assert.Equal(t, originChecker([]string{"*"})(req), true)
}

func TestRejectedPutHealsSender(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s.url("abc"), "")
	ctx := context.Background()

	o := object.New(object.KindRectangle, object.Point{X: 10, Y: 10})
	o.Version = 1
	assert.Equal(t, a.Put(ctx, o), nil)
	rm, _ := s.rooms.GetRoom("abc")
	eventually(t, func() bool { return rm.ObjectCount() == 1 })

	bad := o.Clone()
	bad.Version = 2
	bad.Geometry.X = object.MaxCoordinate * 2
	assert.Equal(t, a.Put(ctx, bad), nil)
	assert.Equal(t, snapshot(a)[o.ID].Version, uint64(2))

	eventually(t, func() bool {
		got := snapshot(a)[o.ID]
		return got != nil && got.Version == 1 && got.Geometry.X == 10
	})
	assert.Equal(t, rm.GetObject(o.ID).Geometry.X, 10.0)

	// a rejected new object disappears from the sender's replica
	far := object.New(object.KindEllipse, object.Point{X: object.MaxCoordinate * 2})
	far.Version = 1
	assert.Equal(t, a.Put(ctx, far), nil)
	eventually(t, func() bool { return snapshot(a)[far.ID] == nil })
}

func TestCorrectionYieldsToNewerLocalPut(t *testing.T) {
	c := &Client{objects: make(map[string]*object.GraphicObject)}

	v3 := object.New(object.KindRectangle, object.Point{X: 30})
	v3.Version = 3
	c.objects[v3.ID] = v3

	current := v3.Clone()
	current.Version = 1
	current.Geometry.X = 10

	// answers the rejected v2; v3 was issued afterwards and is still in flight
	c.apply(protocol.Correction(v3.ID, current, 2))
	assert.Equal(t, c.objects[v3.ID].Version, uint64(3))
	c.apply(protocol.Correction(v3.ID, nil, 2))
	assert.Equal(t, c.objects[v3.ID] != nil, true)

	// answers v3 itself
	c.apply(protocol.Correction(v3.ID, current, 3))
	assert.Equal(t, c.objects[v3.ID].Geometry.X, 10.0)
	c.apply(protocol.Correction(v3.ID, nil, 3))
	assert.Equal(t, c.objects[v3.ID] == nil, true)
}
