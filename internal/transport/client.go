package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"whiteboard/internal/logger"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed is returned for mutations issued after the connection ended.
var ErrClientClosed = errors.New("client closed")

const sendQueueSize = 256

// Client is one participant's connection to a room. It keeps a local replica
// of the shared map: mutations apply locally first and are then queued for
// the server in issue order.
type Client struct {
	conn   *websocket.Conn
	userID string
	token  string
	color  string

	send chan []byte
	done chan struct{}
	wg   sync.WaitGroup

	mu        sync.RWMutex
	objects   map[string]*object.GraphicObject
	subs      map[uint64]func()
	listeners map[uint64]func(presence.Event)
	nextSub   uint64

	closeOnce sync.Once
}

// Dial connects to a room, authenticates (resuming token if it is valid) and
// waits for the initial snapshot.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		objects:   make(map[string]*object.GraphicObject),
		subs:      make(map[uint64]func()),
		listeners: make(map[uint64]func(presence.Event)),
	}

	if err := c.handshake(ctx, token); err != nil {
		conn.Close()
		return nil, err
	}

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// handshake runs before the pumps start, so it reads and writes directly.
func (c *Client) handshake(ctx context.Context, token string) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	if err := c.conn.WriteJSON(&protocol.Envelope{Type: protocol.TypeAuthenticate, Token: token}); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			return err
		}

		switch env.Type {
		case protocol.TypeAuthenticated:
			c.userID, c.token = env.UserID, env.Token
		case protocol.TypeRoomJoined:
			c.color = env.Color
			return nil
		case protocol.TypeError:
			return fmt.Errorf("join refused: %s", env.Error)
		default:
			c.apply(env)
		}
	}
}

func (c *Client) UserID() string { return c.userID }

// Token: session token to pass to the next Dial
func (c *Client) Token() string { return c.token }

func (c *Client) Color() string { return c.color }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close ends the connection and waits for the pumps.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer c.closeOnce.Do(func() { close(c.done) })

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Warn("client read failed", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			logger.Warn("client dropped malformed message", zap.Error(err))
			continue
		}
		c.apply(env)
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("client write failed", zap.Error(err))
				c.closeOnce.Do(func() { close(c.done) })
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// apply folds one server message into the replica or hands it to presence
// listeners.
func (c *Client) apply(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSync:
		c.mu.Lock()
		c.objects = make(map[string]*object.GraphicObject, len(env.Objects))
		for _, o := range env.Objects {
			c.objects[o.ID] = o
		}
		c.mu.Unlock()
		c.notify()
	case protocol.TypeObjectPut:
		if env.Object == nil {
			return
		}
		if c.merge(env.Object, env.Supersedes) {
			c.notify()
		}
	case protocol.TypeObjectDelete:
		c.mu.Lock()
		cur, existed := c.objects[env.ObjectID]
		if existed && env.Supersedes > 0 && cur.Version > env.Supersedes {
			existed = false
		} else {
			delete(c.objects, env.ObjectID)
		}
		c.mu.Unlock()
		if existed {
			c.notify()
		}
	case protocol.TypeObjectsReset:
		c.mu.Lock()
		c.objects = make(map[string]*object.GraphicObject)
		c.mu.Unlock()
		c.notify()
	case protocol.TypePresence:
		if env.Presence != nil {
			c.deliver(presence.Event{Kind: presence.EventPresence, Participant: env.UserID, Color: env.Color, Presence: *env.Presence})
		}
	case protocol.TypeReaction:
		if env.Reaction != nil {
			c.deliver(presence.Event{Kind: presence.EventReaction, Participant: env.UserID, Color: env.Color, Reaction: *env.Reaction})
		}
	case protocol.TypeUserLeft:
		c.deliver(presence.Event{Kind: presence.EventLeave, Participant: env.UserID})
	case protocol.TypeError:
		logger.Warn("server error", zap.String("error", env.Error))
	}
}

// merge applies o last-writer-wins; equal versions take the newer arrival.
// A correction (supersedes > 0) also replaces a replica entry up to the
// rejected version, even when that entry is newer than o.
func (c *Client) merge(o *object.GraphicObject, supersedes uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.objects[o.ID]; cur != nil && o.Version < cur.Version && cur.Version > supersedes {
		return false
	}
	c.objects[o.ID] = o.Clone()
	return true
}

func (c *Client) notify() {
	c.mu.RLock()
	subs := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

func (c *Client) deliver(e presence.Event) {
	c.mu.RLock()
	fns := make([]func(presence.Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// enqueue blocks until the message is queued, ctx ends, or the client closes.
func (c *Client) enqueue(ctx context.Context, env *protocol.Envelope) error {
	msg, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues an ephemeral message, dropping it when the queue is full.
func (c *Client) offer(env *protocol.Envelope) error {
	msg, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
	default:
		logger.Debug("presence dropped, send queue full")
	}
	return nil
}

// --- shared.Backend ---

func (c *Client) Put(ctx context.Context, o *object.GraphicObject) error {
	if o == nil || o.ID == "" {
		return errors.New("put: missing object")
	}
	if c.merge(o, 0) {
		c.notify()
	}
	return c.enqueue(ctx, protocol.ObjectPut(o.Clone()))
}

func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	_, existed := c.objects[id]
	delete(c.objects, id)
	c.mu.Unlock()
	if existed {
		c.notify()
	}
	return c.enqueue(ctx, protocol.ObjectDelete(id))
}

func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.objects = make(map[string]*object.GraphicObject)
	c.mu.Unlock()
	c.notify()
	return c.enqueue(ctx, protocol.ObjectsReset())
}

func (c *Client) Snapshot(_ context.Context) (map[string]*object.GraphicObject, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*object.GraphicObject, len(c.objects))
	for id, o := range c.objects {
		out[id] = o.Clone()
	}
	return out, nil
}

func (c *Client) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// --- presence.Channel ---

// Presence returns the client as a presence channel.
func (c *Client) Presence() presence.Channel { return clientChannel{c} }

type clientChannel struct{ c *Client }

func (ch clientChannel) UpdatePresence(r presence.Record) error {
	return ch.c.offer(&protocol.Envelope{Type: protocol.TypePresence, Presence: &r})
}

func (ch clientChannel) BroadcastReaction(r presence.Reaction) error {
	return ch.c.offer(&protocol.Envelope{Type: protocol.TypeReaction, Reaction: &r})
}

func (ch clientChannel) Subscribe(fn func(presence.Event)) func() {
	c := ch.c
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}
