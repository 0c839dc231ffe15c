package handlers

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"whiteboard/internal/clock"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/protocol"
	"whiteboard/internal/room"
	"whiteboard/internal/user"

	"github.com/go-playground/assert/v2"
	"golang.org/x/time/rate"
)

type fakeClient struct {
	sent []*protocol.Envelope
}

func (c *fakeClient) WriteJSON(v any) error {
	c.sent = append(c.sent, v.(*protocol.Envelope))
	return nil
}

type fixture struct {
	room     *room.Room
	router   *MessageRouter
	sessions *user.SessionManager
	clock    *clock.FakeClock
	client   *fakeClient
	session  *user.UserSession
}

func newFixture(limits *middleware.RateLimit) *fixture {
	sessions := user.NewSessionManager(user.DefaultSessionLimits())
	clk := clock.Fake(time.Unix(1000, 0))
	return &fixture{
		room:     room.NewRoom("abc", nil, nil),
		router:   NewMessageRouter(object.NewValidator(), limits, sessions, clk),
		sessions: sessions,
		clock:    clk,
		client:   &fakeClient{},
		session:  sessions.Create(),
	}
}

func (f *fixture) send(t *testing.T, env *protocol.Envelope) error {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return f.router.Dispatch(f.room, f.session.UserID, f.client, nil, data)
}

func rect(version uint64) *object.GraphicObject {
	o := object.New(object.KindRectangle, object.Point{X: 10, Y: 10})
	o.ID = "r1"
	o.Version = version
	return o
}

func TestPutAppliesAndStampsAuthor(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	assert.Equal(t, f.send(t, protocol.ObjectPut(rect(1))), nil)

	stored := f.room.GetObject("r1")
	assert.Equal(t, stored.Version, uint64(1))
	assert.Equal(t, stored.Author, f.session.UserID)
	assert.Equal(t, len(f.client.sent), 0)
}

func TestStalePutAnsweredWithCurrent(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())
	f.send(t, protocol.ObjectPut(rect(6)))

	assert.Equal(t, f.send(t, protocol.ObjectPut(rect(5))), nil)
	assert.Equal(t, len(f.client.sent), 1)
	assert.Equal(t, f.client.sent[0].Type, protocol.TypeObjectPut)
	assert.Equal(t, f.client.sent[0].Object.Version, uint64(6))
	assert.Equal(t, f.room.GetObject("r1").Version, uint64(6))
}

func TestInvalidPutOfNewObjectIsRetracted(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	bad := rect(1)
	bad.Geometry.X = object.MaxCoordinate * 2
	assert.NotEqual(t, f.send(t, protocol.ObjectPut(bad)), nil)

	assert.Equal(t, f.room.GetObject("r1") == nil, true)
	assert.Equal(t, len(f.client.sent), 1)
	assert.Equal(t, f.client.sent[0].Type, protocol.TypeObjectDelete)
	assert.Equal(t, f.client.sent[0].ObjectID, "r1")
	assert.Equal(t, f.client.sent[0].Supersedes, uint64(1))
}

func TestKindCannotChange(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())
	f.send(t, protocol.ObjectPut(rect(1)))

	swapped := object.New(object.KindEllipse, object.Point{})
	swapped.ID = "r1"
	swapped.Version = 2
	assert.NotEqual(t, f.send(t, protocol.ObjectPut(swapped)), nil)
	assert.Equal(t, f.room.GetObject("r1").Kind, object.KindRectangle)
	assert.Equal(t, f.client.sent[0].Object.Kind, object.KindRectangle)
	assert.Equal(t, f.client.sent[0].Object.Version, uint64(1))
	assert.Equal(t, f.client.sent[0].Supersedes, uint64(2))
}

func TestObjectCapacity(t *testing.T) {
	limits := middleware.DefaultRateLimit()
	limits.MaxObjects = 1
	f := newFixture(limits)

	assert.Equal(t, f.send(t, protocol.ObjectPut(rect(1))), nil)

	other := rect(1)
	other.ID = "r2"
	assert.NotEqual(t, f.send(t, protocol.ObjectPut(other)), nil)
	assert.Equal(t, f.room.ObjectCount(), 1)

	// updates to an existing object are still accepted at capacity
	assert.Equal(t, f.send(t, protocol.ObjectPut(rect(2))), nil)
}

func TestSanitizedPutIsEchoed(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	text := object.New(object.KindText, object.Point{})
	text.ID = "t1"
	text.Version = 1
	text.Geometry.Text = "<script>x</script>hi"

	assert.Equal(t, f.send(t, protocol.ObjectPut(text)), nil)
	assert.Equal(t, f.room.GetObject("t1").Geometry.Text, "hi")
	assert.Equal(t, len(f.client.sent), 1)
	assert.Equal(t, f.client.sent[0].Object.Geometry.Text, "hi")
}

func TestDeleteAndReset(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())
	f.send(t, protocol.ObjectPut(rect(1)))

	assert.Equal(t, f.send(t, protocol.ObjectDelete("r1")), nil)
	assert.Equal(t, f.room.ObjectCount(), 0)
	// absent id is a no-op, not an error
	assert.Equal(t, f.send(t, protocol.ObjectDelete("r1")), nil)
	assert.NotEqual(t, f.send(t, protocol.ObjectDelete("")), nil)

	f.send(t, protocol.ObjectPut(rect(2)))
	assert.Equal(t, f.send(t, protocol.ObjectsReset()), nil)
	assert.Equal(t, f.room.ObjectCount(), 0)
}

func TestPresenceThrottledAndColored(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	var seen []presence.Event
	defer f.room.Channel("observer").Subscribe(func(e presence.Event) { seen = append(seen, e) })()

	cursor := object.Point{X: 1, Y: 1}
	update := &protocol.Envelope{Type: protocol.TypePresence, Presence: &presence.Record{Cursor: &cursor}}

	assert.Equal(t, f.send(t, update), nil)
	f.clock.Advance(10 * time.Millisecond)
	assert.Equal(t, f.send(t, update), nil)
	assert.Equal(t, len(seen), 1)

	f.clock.Advance(PresenceThrottle)
	assert.Equal(t, f.send(t, update), nil)
	assert.Equal(t, len(seen), 2)
	assert.Equal(t, seen[0].Participant, f.session.UserID)
	assert.Equal(t, seen[0].Color, f.room.GetUserColor(f.session.UserID))
}

func TestPresenceMessageSanitized(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	var seen []presence.Event
	defer f.room.Channel("observer").Subscribe(func(e presence.Event) { seen = append(seen, e) })()

	msg := "<b>hello</b>"
	f.send(t, &protocol.Envelope{Type: protocol.TypePresence, Presence: &presence.Record{Message: &msg, Mode: presence.ModeChat}})
	assert.Equal(t, *seen[0].Presence.Message, "hello")
}

func TestReactionRelayed(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	var seen []presence.Event
	defer f.room.Channel("observer").Subscribe(func(e presence.Event) { seen = append(seen, e) })()

	re := &presence.Reaction{Point: object.Point{X: 3, Y: 4}, Symbol: "👍"}
	assert.Equal(t, f.send(t, &protocol.Envelope{Type: protocol.TypeReaction, Reaction: re}), nil)
	assert.Equal(t, len(seen), 1)
	assert.Equal(t, seen[0].Kind, presence.EventReaction)
	assert.Equal(t, seen[0].Reaction.Symbol, "👍")

	assert.NotEqual(t, f.send(t, &protocol.Envelope{Type: protocol.TypeReaction}), nil)
}

func TestGetUserID(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	assert.Equal(t, f.send(t, &protocol.Envelope{Type: protocol.TypeGetUserID}), nil)
	assert.Equal(t, f.client.sent[0].Type, protocol.TypeUserID)
	assert.Equal(t, f.client.sent[0].UserID, f.session.UserID)
}

func TestUnknownAndMalformed(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())

	assert.NotEqual(t, f.send(t, &protocol.Envelope{Type: "draw"}), nil)
	assert.NotEqual(t, f.router.Dispatch(f.room, "u", f.client, nil, []byte("{")), nil)
}

func TestSessionObjectLimiter(t *testing.T) {
	f := newFixture(middleware.DefaultRateLimit())
	session := &user.UserSession{UserID: "u", ObjectLimiter: rate.NewLimiter(rate.Every(time.Hour), 1)}

	data, _ := json.Marshal(protocol.ObjectPut(rect(1)))
	assert.Equal(t, f.router.Dispatch(f.room, "u", f.client, session, data), nil)

	err := f.router.Dispatch(f.room, "u", f.client, session, data)
	assert.Equal(t, errors.Is(err, ErrRateLimited), true)

	// identity requests are not object traffic
	data, _ = json.Marshal(&protocol.Envelope{Type: protocol.TypeGetUserID})
	assert.Equal(t, f.router.Dispatch(f.room, "u", f.client, session, data), nil)
}
