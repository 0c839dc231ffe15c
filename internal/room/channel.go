package room

import (
	"whiteboard/internal/presence"
	"whiteboard/internal/protocol"
)

type listener struct {
	participant string
	fn          func(presence.Event)
}

// BroadcastPresence relays a participant's presence to every other
// connection and in-process listener, tagged with the room color.
func (r *Room) BroadcastPresence(from string, rec presence.Record) {
	color := r.GetUserColor(from)
	r.sendEphemeral(protocol.Presence(from, color, rec), from)
	r.deliver(from, presence.Event{Kind: presence.EventPresence, Participant: from, Color: color, Presence: rec})
}

// BroadcastReaction relays a reaction the same way.
func (r *Room) BroadcastReaction(from string, re presence.Reaction) {
	color := r.GetUserColor(from)
	r.sendEphemeral(protocol.Reaction(from, color, re), from)
	r.deliver(from, presence.Event{Kind: presence.EventReaction, Participant: from, Color: color, Reaction: re})
}

func presenceLeave(id string) presence.Event {
	return presence.Event{Kind: presence.EventLeave, Participant: id}
}

// deliver hands e to in-process listeners other than its sender.
func (r *Room) deliver(from string, e presence.Event) {
	r.mu.RLock()
	fns := make([]func(presence.Event), 0, len(r.listeners))
	for _, l := range r.listeners {
		if l.participant != from {
			fns = append(fns, l.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (r *Room) listen(participant string, fn func(presence.Event)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = listener{participant: participant, fn: fn}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Channel returns the presence channel of an in-process participant.
func (r *Room) Channel(participant string) presence.Channel {
	return &localChannel{room: r, participant: participant}
}

type localChannel struct {
	room        *Room
	participant string
}

func (c *localChannel) UpdatePresence(rec presence.Record) error {
	c.room.BroadcastPresence(c.participant, rec)
	return nil
}

func (c *localChannel) BroadcastReaction(re presence.Reaction) error {
	c.room.BroadcastReaction(c.participant, re)
	return nil
}

func (c *localChannel) Subscribe(fn func(presence.Event)) func() {
	return c.room.listen(c.participant, fn)
}
