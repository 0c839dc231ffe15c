package room

import (
	"context"
	"testing"
	"time"

	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/user"

	"github.com/go-playground/assert/v2"
)

type memStore struct {
	rooms map[string]map[string]*object.GraphicObject
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]map[string]*object.GraphicObject)}
}

func (m *memStore) room(code string) map[string]*object.GraphicObject {
	if m.rooms[code] == nil {
		m.rooms[code] = make(map[string]*object.GraphicObject)
	}
	return m.rooms[code]
}

func (m *memStore) SaveObject(code string, o *object.GraphicObject) error {
	m.room(code)[o.ID] = o.Clone()
	return nil
}

func (m *memStore) DeleteObject(code, id string) error {
	delete(m.room(code), id)
	return nil
}

func (m *memStore) ClearRoom(code string) error {
	delete(m.rooms, code)
	return nil
}

func (m *memStore) LoadRoom(code string) (map[string]*object.GraphicObject, error) {
	out := make(map[string]*object.GraphicObject)
	for id, o := range m.rooms[code] {
		out[id] = o.Clone()
	}
	return out, nil
}

func versioned(id string, version uint64, w float64) *object.GraphicObject {
	o := object.New(object.KindRectangle, object.Point{})
	o.ID = id
	o.Version = version
	o.Geometry.W = w
	return o
}

func TestHigherVersionWins(t *testing.T) {
	r := NewRoom("abc", nil, nil)

	applied, _ := r.Apply(versioned("o1", 6, 60), "")
	assert.Equal(t, applied, true)

	applied, current := r.Apply(versioned("o1", 5, 50), "")
	assert.Equal(t, applied, false)
	assert.Equal(t, current.Version, uint64(6))
	assert.Equal(t, r.GetObject("o1").Geometry.W, 60.0)
}

func TestEqualVersionLaterArrivalWins(t *testing.T) {
	r := NewRoom("abc", nil, nil)

	r.Apply(versioned("o1", 3, 10), "")
	applied, _ := r.Apply(versioned("o1", 3, 20), "")
	assert.Equal(t, applied, true)
	assert.Equal(t, r.GetObject("o1").Geometry.W, 20.0)
}

func TestApplyStoresACopy(t *testing.T) {
	r := NewRoom("abc", nil, nil)

	o := versioned("o1", 1, 10)
	r.Apply(o, "")
	o.Geometry.W = 999
	assert.Equal(t, r.GetObject("o1").Geometry.W, 10.0)
}

func TestRemoveAndClear(t *testing.T) {
	r := NewRoom("abc", nil, nil)
	r.Apply(versioned("a", 1, 1), "")
	r.Apply(versioned("b", 1, 1), "")

	assert.Equal(t, r.Remove("a", ""), true)
	assert.Equal(t, r.Remove("a", ""), false)
	assert.Equal(t, r.ObjectCount(), 1)

	r.ClearAll("")
	assert.Equal(t, r.ObjectCount(), 0)
}

func TestSortedObjects(t *testing.T) {
	r := NewRoom("abc", nil, nil)
	r.Apply(versioned("c", 1, 1), "")
	r.Apply(versioned("a", 1, 1), "")
	r.Apply(versioned("b", 1, 1), "")

	objects := r.SortedObjects()
	assert.Equal(t, len(objects), 3)
	assert.Equal(t, objects[0].ID, "a")
	assert.Equal(t, objects[2].ID, "c")
}

func TestSubscribersSeeAcceptedChanges(t *testing.T) {
	r := NewRoom("abc", nil, nil)

	calls := 0
	unsubscribe := r.Subscribe(func() { calls++ })

	ctx := context.Background()
	assert.Equal(t, r.Put(ctx, versioned("o1", 2, 1)), nil)
	assert.Equal(t, calls, 1)

	// stale put is rejected and nobody is told
	r.Put(ctx, versioned("o1", 1, 1))
	assert.Equal(t, calls, 1)

	r.Delete(ctx, "o1")
	assert.Equal(t, calls, 2)
	r.Delete(ctx, "o1")
	assert.Equal(t, calls, 2)

	r.Clear(ctx)
	assert.Equal(t, calls, 3)

	unsubscribe()
	r.Put(ctx, versioned("o2", 1, 1))
	assert.Equal(t, calls, 3)

	assert.NotEqual(t, r.Put(ctx, nil), nil)
}

func TestSnapshotIsCopied(t *testing.T) {
	r := NewRoom("abc", nil, nil)
	r.Apply(versioned("o1", 1, 10), "")

	snap, err := r.Snapshot(context.Background())
	assert.Equal(t, err, nil)
	snap["o1"].Geometry.W = 0
	assert.Equal(t, r.GetObject("o1").Geometry.W, 10.0)
}

func TestPersistence(t *testing.T) {
	store := newMemStore()
	r := NewRoom("abc", store, nil)

	r.Apply(versioned("a", 1, 1), "")
	r.Apply(versioned("b", 1, 1), "")
	r.Remove("a", "")

	loaded, _ := store.LoadRoom("abc")
	assert.Equal(t, len(loaded), 1)
	assert.Equal(t, loaded["b"].Version, uint64(1))

	r.ClearAll("")
	loaded, _ = store.LoadRoom("abc")
	assert.Equal(t, len(loaded), 0)
}

func TestLocalChannelSkipsSender(t *testing.T) {
	r := NewRoom("abc", nil, nil)
	alice := r.Channel("alice")
	bob := r.Channel("bob")

	var aliceSaw, bobSaw []presence.Event
	defer alice.Subscribe(func(e presence.Event) { aliceSaw = append(aliceSaw, e) })()
	defer bob.Subscribe(func(e presence.Event) { bobSaw = append(bobSaw, e) })()

	cursor := object.Point{X: 4, Y: 5}
	assert.Equal(t, alice.UpdatePresence(presence.Record{Cursor: &cursor}), nil)
	assert.Equal(t, bob.BroadcastReaction(presence.Reaction{Symbol: "🔥"}), nil)

	assert.Equal(t, len(bobSaw), 1)
	assert.Equal(t, bobSaw[0].Kind, presence.EventPresence)
	assert.Equal(t, bobSaw[0].Participant, "alice")
	assert.Equal(t, bobSaw[0].Color, r.GetUserColor("alice"))
	assert.Equal(t, *bobSaw[0].Presence.Cursor, cursor)

	assert.Equal(t, len(aliceSaw), 1)
	assert.Equal(t, aliceSaw[0].Kind, presence.EventReaction)
	assert.Equal(t, aliceSaw[0].Reaction.Symbol, "🔥")
}

func TestValidRoomCode(t *testing.T) {
	assert.Equal(t, ValidRoomCode("team-42_a"), true)
	assert.Equal(t, ValidRoomCode(""), false)
	assert.Equal(t, ValidRoomCode("a:b"), false)
	assert.Equal(t, ValidRoomCode("../etc"), false)
}

func TestJoinCapsRoomSize(t *testing.T) {
	r := NewRoom("abc", nil, nil)
	sm := user.NewSessionManager(user.DefaultSessionLimits())

	first := user.NewUser(sm.Create(), nil)
	second := user.NewUser(sm.Create(), nil)

	assert.Equal(t, r.Join(first, 1), nil)
	assert.NotEqual(t, r.Join(second, 1), nil)
	// a reconnecting participant is not counted twice
	assert.Equal(t, r.Join(first, 1), nil)
	assert.Equal(t, r.ConnectionCount(), 1)

	r.Leave(first)
	assert.Equal(t, r.ConnectionCount(), 0)
}

func TestManagerLoadsPersistedRoom(t *testing.T) {
	store := newMemStore()
	store.SaveObject("abc", versioned("o1", 7, 70))

	m := NewManager(store)
	r, err := m.CreateRoom("abc", 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, r.GetObject("o1").Version, uint64(7))

	again, _ := m.CreateRoom("abc", 10)
	assert.Equal(t, again, r)
}

func TestManagerRoomCap(t *testing.T) {
	m := NewManager(nil)

	_, err := m.CreateRoom("one", 1)
	assert.Equal(t, err, nil)
	_, err = m.CreateRoom("two", 1)
	assert.NotEqual(t, err, nil)
	_, err = m.CreateRoom("bad code", 1)
	assert.NotEqual(t, err, nil)
}

func TestManagerCleanup(t *testing.T) {
	m := NewManager(nil)
	idle, _ := m.CreateRoom("idle", 10)
	busy, _ := m.CreateRoom("busy", 10)

	sm := user.NewSessionManager(user.DefaultSessionLimits())
	busy.Join(user.NewUser(sm.Create(), nil), 10)
	_ = idle

	removed := m.Cleanup(time.Now().Add(2 * time.Hour))
	assert.Equal(t, removed, 1)
	_, exists := m.GetRoom("busy")
	assert.Equal(t, exists, true)

	// old but occupied: evicting it would leave two maps for one code
	removed = m.Cleanup(time.Now().Add(25 * time.Hour))
	assert.Equal(t, removed, 0)
	again, _ := m.CreateRoom("busy", 10)
	assert.Equal(t, again == busy, true)
}

func TestEvictedRoomRefusesJoins(t *testing.T) {
	m := NewManager(nil)
	sm := user.NewSessionManager(user.DefaultSessionLimits())

	old, _ := m.CreateRoom("old", 10)
	assert.Equal(t, m.Cleanup(time.Now().Add(25*time.Hour)), 1)

	u := user.NewUser(sm.Create(), nil)
	assert.Equal(t, old.Join(u, 10), ErrRoomClosed)

	fresh, err := m.CreateRoom("old", 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, fresh == old, false)
	assert.Equal(t, fresh.Join(u, 10), nil)
}

func TestJoinRoomRequiresCode(t *testing.T) {
	m := NewManager(nil)
	sm := user.NewSessionManager(user.DefaultSessionLimits())
	session := sm.Create()

	_, err := m.JoinRoom("", session, user.NewUser(session, nil), &middleware.RateLimit{MaxRooms: 1, MaxRoomSize: 1})
	assert.NotEqual(t, err, nil)
}
