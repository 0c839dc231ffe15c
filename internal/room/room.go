package room

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"whiteboard/internal/logger"
	"whiteboard/internal/object"
	"whiteboard/internal/protocol"
	"whiteboard/internal/user"

	"go.uber.org/zap"
)

// Persister receives every accepted mutation of a room.
type Persister interface {
	SaveObject(code string, o *object.GraphicObject) error
	DeleteObject(code, id string) error
	ClearRoom(code string) error
}

// Room is the authoritative shared object map of one collaborative whiteboard.
// Puts merge last-writer-wins by version; on equal versions the later arrival wins.
type Room struct {
	Code           string
	Connections    map[string]*user.User
	Objects        map[string]*object.GraphicObject
	colorGenerator *user.ColorGenerator
	store          Persister
	broadcaster    *Broadcaster

	subscribers map[uint64]func()
	listeners   map[uint64]listener
	nextSub     uint64

	LastActive time.Time
	CreatedAt  time.Time
	closed     bool
	mu         sync.RWMutex

	// sendMu keeps broadcasts in the order their mutations were applied
	sendMu sync.Mutex
}

// NewRoom: empty room, or one seeded with previously persisted objects.
// store may be nil.
func NewRoom(code string, store Persister, objects map[string]*object.GraphicObject) *Room {
	if objects == nil {
		objects = make(map[string]*object.GraphicObject)
	}
	now := time.Now()
	return &Room{
		Code:           code,
		Connections:    make(map[string]*user.User),
		Objects:        objects,
		colorGenerator: user.NewColorGenerator(),
		store:          store,
		broadcaster:    NewBroadcaster(),
		subscribers:    make(map[uint64]func()),
		listeners:      make(map[uint64]listener),
		LastActive:     now,
		CreatedAt:      now,
	}
}

// ValidRoomCode: 1-64 characters of [A-Za-z0-9_-]
func ValidRoomCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	return strings.IndexFunc(code, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_')
	}) < 0
}

// ErrRoomClosed is returned by Join on a room the manager has evicted.
var ErrRoomClosed = errors.New("room closed")

// Join: adds user to room and assigns a unique color
func (r *Room) Join(u *user.User, maxRoomSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, rejoin := r.Connections[u.ID]; !rejoin && len(r.Connections) >= maxRoomSize {
		return errors.New("room is full")
	}

	r.Connections[u.ID] = u
	r.colorGenerator.Assign(u.ID)
	return nil
}

// Leave: remove user from room and tell everyone else
func (r *Room) Leave(u *user.User) {
	r.mu.Lock()
	if current, ok := r.Connections[u.ID]; ok && current == u {
		delete(r.Connections, u.ID)
	}
	r.LastActive = time.Now()
	r.mu.Unlock()

	r.sendEphemeral(protocol.UserLeft(u.ID), u.ID)
	r.deliver(u.ID, presenceLeave(u.ID))
}

// Apply merges o into the map. It reports whether o was accepted and returns
// the snapshot now stored under o.ID. A rejected put leaves the map unchanged.
// origin is the participant the change came from; it is not echoed back.
func (r *Room) Apply(o *object.GraphicObject, origin string) (bool, *object.GraphicObject) {
	r.mu.Lock()
	if cur := r.Objects[o.ID]; cur != nil && o.Version < cur.Version {
		current := cur.Clone()
		r.mu.Unlock()
		return false, current
	}

	stored := o.Clone()
	r.Objects[o.ID] = stored
	r.LastActive = time.Now()
	r.persist("save", func(p Persister) error { return p.SaveObject(r.Code, stored) })
	r.sendOrdered(protocol.ObjectPut(stored), origin)
	return true, stored.Clone()
}

// Remove deletes id. It reports whether the object existed.
func (r *Room) Remove(id string, origin string) bool {
	r.mu.Lock()
	if _, exists := r.Objects[id]; !exists {
		r.mu.Unlock()
		return false
	}

	delete(r.Objects, id)
	r.LastActive = time.Now()
	r.persist("delete", func(p Persister) error { return p.DeleteObject(r.Code, id) })
	r.sendOrdered(protocol.ObjectDelete(id), origin)
	return true
}

// ClearAll deletes every object in the room.
func (r *Room) ClearAll(origin string) {
	r.mu.Lock()
	r.Objects = make(map[string]*object.GraphicObject)
	r.LastActive = time.Now()
	r.persist("clear", func(p Persister) error { return p.ClearRoom(r.Code) })
	r.sendOrdered(protocol.ObjectsReset(), origin)
}

// persist runs with r.mu held so stored order matches applied order.
func (r *Room) persist(op string, fn func(Persister) error) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		logger.Error("room persistence failed", zap.String("room", r.Code), zap.String("op", op), zap.Error(err))
	}
}

// sendOrdered is called with r.mu held and releases it. Connections are
// captured before unlocking and the broadcast itself runs under sendMu only.
func (r *Room) sendOrdered(env *protocol.Envelope, origin string) {
	targets := r.targetsLocked(origin)
	subs := r.subscriberListLocked()
	r.sendMu.Lock()
	r.mu.Unlock()

	failed := r.broadcast(env, targets)
	r.sendMu.Unlock()

	r.dropFailed(failed)
	for _, fn := range subs {
		fn()
	}
}

// sendEphemeral broadcasts without ordering guarantees.
func (r *Room) sendEphemeral(env *protocol.Envelope, origin string) {
	r.mu.RLock()
	targets := r.targetsLocked(origin)
	r.mu.RUnlock()

	r.dropFailed(r.broadcast(env, targets))
}

func (r *Room) broadcast(env *protocol.Envelope, targets []*user.User) []*user.User {
	if len(targets) == 0 {
		return nil
	}
	msg, err := protocol.Encode(env)
	if err != nil {
		logger.Error("broadcast encode failed", zap.String("type", env.Type), zap.Error(err))
		return nil
	}
	return r.broadcaster.Broadcast(targets, msg)
}

func (r *Room) targetsLocked(origin string) []*user.User {
	targets := make([]*user.User, 0, len(r.Connections))
	for _, u := range r.Connections {
		if u.ID != origin {
			targets = append(targets, u)
		}
	}
	return targets
}

// dropFailed: removes and closes connections whose write failed
func (r *Room) dropFailed(failed []*user.User) {
	for _, u := range failed {
		r.RemoveConnection(u.ID)
		u.Close()
	}
}

// GetObject: retrieves a copy of the snapshot stored under id
func (r *Room) GetObject(id string) *object.GraphicObject {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Objects[id].Clone()
}

// SortedObjects: copies of every snapshot, ordered by id
func (r *Room) SortedObjects() []*object.GraphicObject {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedObjectsLocked()
}

func (r *Room) sortedObjectsLocked() []*object.GraphicObject {
	out := make([]*object.GraphicObject, 0, len(r.Objects))
	for _, o := range r.Objects {
		out = append(out, o.Clone())
	}
	slices.SortFunc(out, func(a, b *object.GraphicObject) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ObjectCount: returns number of objects in room
func (r *Room) ObjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Objects)
}

// ConnectionCount: returns number of connections in room
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Connections)
}

// GetConnections: returns snapshot of current connections (for broadcasting)
func (r *Room) GetConnections() map[string]*user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*user.User, len(r.Connections))
	for k, v := range r.Connections {
		snapshot[k] = v
	}
	return snapshot
}

// RemoveConnection: removes user connection from room (cleanup after failed broadcast)
func (r *Room) RemoveConnection(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.Connections, userID)
}

// GetUserColor: returns the participant's color in this room, assigning one
// on first use
func (r *Room) GetUserColor(userID string) string {
	return r.colorGenerator.Assign(userID)
}

// evict closes an empty room that has been idle for idleAfter or has lived
// past maxAge. A room with connections is never evicted: a second Room for
// the same code would be a second authoritative map. Joins to a closed room
// fail with ErrRoomClosed.
func (r *Room) evict(now time.Time, idleAfter, maxAge time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Connections) > 0 {
		return false
	}
	if now.Sub(r.LastActive) <= idleAfter && now.Sub(r.CreatedAt) <= maxAge {
		return false
	}
	r.closed = true
	return true
}

// --- shared.Backend for clients running in the same process ---

func (r *Room) Put(_ context.Context, o *object.GraphicObject) error {
	if o == nil || o.ID == "" {
		return errors.New("put: missing object")
	}
	r.Apply(o, "")
	return nil
}

func (r *Room) Delete(_ context.Context, id string) error {
	r.Remove(id, "")
	return nil
}

func (r *Room) Clear(_ context.Context) error {
	r.ClearAll("")
	return nil
}

func (r *Room) Snapshot(_ context.Context) (map[string]*object.GraphicObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*object.GraphicObject, len(r.Objects))
	for id, o := range r.Objects {
		out[id] = o.Clone()
	}
	return out, nil
}

// Subscribe: fn runs after every accepted change, from the mutating goroutine
func (r *Room) Subscribe(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Room) subscriberListLocked() []func() {
	subs := make([]func(), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	return subs
}
