package presence

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"whiteboard/internal/clock"
	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/object"
	"whiteboard/internal/user"

	"go.uber.org/zap"
)

// Config holds the two cadences and the display limits.
type Config struct {
	DecayInterval     time.Duration
	BroadcastInterval time.Duration
	Visibility        time.Duration
	MaxChatLength     int
}

func DefaultConfig() Config {
	return Config{
		DecayInterval:     time.Second,
		BroadcastInterval: 100 * time.Millisecond,
		Visibility:        4 * time.Second,
		MaxChatLength:     50,
	}
}

// State is a copy of the local participant's presence as the UI sees it.
type State struct {
	Record          Record
	Input           string
	PreviousMessage string
	Reaction        string
	Pressed         bool
}

// Presence owns the local presence record, the reaction display list and
// the remote peers. Its methods are safe for concurrent use.
type Presence struct {
	channel Channel
	clock   clock.Clock
	cfg     Config
	colors  *user.ColorGenerator

	mu        sync.Mutex
	record    Record
	input     string
	previous  string
	reaction  string
	pressed   bool
	reactions []Reaction
	peers     map[string]*Peer

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

func New(ch Channel, clk clock.Clock, cfg Config) *Presence {
	return &Presence{
		channel: ch,
		clock:   clk,
		cfg:     cfg,
		colors:  user.NewColorGenerator(),
		peers:   make(map[string]*Peer),
	}
}

// Start subscribes to the channel and launches the decay and broadcast
// tasks. Both stop together when ctx ends or Stop is called.
func (p *Presence) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.unsubscribe = p.channel.Subscribe(p.HandleEvent)
	p.mu.Unlock()

	decay := p.clock.NewTicker(p.cfg.DecayInterval)
	broadcast := p.clock.NewTicker(p.cfg.BroadcastInterval)

	p.wg.Add(2)
	go p.every(ctx, decay, p.DecayTick)
	go p.every(ctx, broadcast, p.BroadcastTick)
}

// Stop cancels both tasks, waits for them and drops the channel
// subscription. Calling Stop twice is harmless.
func (p *Presence) Stop() {
	p.mu.Lock()
	cancel, unsubscribe := p.cancel, p.unsubscribe
	p.cancel, p.unsubscribe = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (p *Presence) every(ctx context.Context, t *clock.Ticker, tick func(time.Time)) {
	defer p.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			tick(now)
		}
	}
}

// DecayTick drops reactions that have been visible for the full window.
func (p *Presence) DecayTick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.reactions[:0]
	for _, r := range p.reactions {
		if now.Sub(r.EmittedAt) < p.cfg.Visibility {
			kept = append(kept, r)
		}
	}
	p.reactions = kept
}

// BroadcastTick emits a reaction at the cursor while the reaction button is
// held. The reaction is shown locally and sent to everyone else.
func (p *Presence) BroadcastTick(now time.Time) {
	p.mu.Lock()
	if p.record.Mode != ModeReaction || !p.pressed || p.record.Cursor == nil {
		p.mu.Unlock()
		return
	}
	r := Reaction{Point: *p.record.Cursor, Symbol: p.reaction, EmittedAt: now}
	p.reactions = append(p.reactions, r)
	p.mu.Unlock()

	metrics.ReactionsEmitted.Inc()
	if err := p.channel.BroadcastReaction(r); err != nil {
		logger.Warn("reaction broadcast dropped", zap.Error(err))
	}
}

// HandleEvent applies a remote event. Remote reactions are stamped with the
// local receive time so they expire on the local clock.
func (p *Presence) HandleEvent(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case EventReaction:
		r := e.Reaction
		r.EmittedAt = p.clock.Now()
		p.reactions = append(p.reactions, r)
	case EventPresence:
		peer, ok := p.peers[e.Participant]
		if !ok {
			peer = &Peer{ID: e.Participant}
			p.peers[e.Participant] = peer
		}
		peer.Record = e.Presence.clone()
		peer.Color = e.Color
		if peer.Color == "" {
			peer.Color = p.colors.Assign(e.Participant)
		}
	case EventLeave:
		delete(p.peers, e.Participant)
	}
}

// PointerMove tracks the cursor unless the reaction selector is open.
func (p *Presence) PointerMove(at object.Point) {
	p.mu.Lock()
	if p.record.Cursor != nil && p.record.Mode == ModeReactionSelector {
		p.mu.Unlock()
		return
	}
	p.record.Cursor = &at
	p.mu.Unlock()
	p.publish()
}

func (p *Presence) PointerDown(at object.Point) {
	p.mu.Lock()
	p.record.Cursor = &at
	if p.record.Mode == ModeReaction {
		p.pressed = true
	}
	p.mu.Unlock()
	p.publish()
}

func (p *Presence) PointerUp() {
	p.mu.Lock()
	if p.record.Mode == ModeReaction {
		p.pressed = false
	}
	p.mu.Unlock()
}

// PointerLeave hides the cursor and clears the chat message.
func (p *Presence) PointerLeave() {
	p.mu.Lock()
	p.record = Record{Mode: ModeHidden}
	p.pressed = false
	p.input = ""
	p.mu.Unlock()
	p.publish()
}

// KeyDown reports whether the host should suppress the key's default action.
func (p *Presence) KeyDown(key string) bool {
	return key == "/"
}

// KeyUp drives the cursor-mode transitions. While a chat message is being
// composed only Escape is honored; other keys belong to the input.
func (p *Presence) KeyUp(key string) {
	p.mu.Lock()
	if p.record.Mode == ModeChat && key != "Escape" {
		p.mu.Unlock()
		return
	}

	switch key {
	case "/":
		p.openChat()
	case "Escape":
		empty := ""
		p.record.Message = &empty
		p.record.Mode = ModeHidden
		p.input = ""
		p.pressed = false
	case "e":
		p.record.Mode = ModeReactionSelector
		p.pressed = false
	default:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.publish()
}

// OpenChat enters chat mode with an empty message.
func (p *Presence) OpenChat() {
	p.mu.Lock()
	p.openChat()
	p.mu.Unlock()
	p.publish()
}

func (p *Presence) openChat() {
	empty := ""
	p.record.Mode = ModeChat
	p.record.Message = &empty
	p.input = ""
	p.previous = ""
	p.pressed = false
}

// OpenReactionSelector shows the reaction picker.
func (p *Presence) OpenReactionSelector() {
	p.mu.Lock()
	p.record.Mode = ModeReactionSelector
	p.pressed = false
	p.mu.Unlock()
	p.publish()
}

// SelectReaction arms reaction mode with symbol; nothing is emitted until the
// pointer is pressed.
func (p *Presence) SelectReaction(symbol string) {
	p.mu.Lock()
	p.record.Mode = ModeReaction
	p.reaction = symbol
	p.pressed = false
	p.mu.Unlock()
	p.publish()
}

// ChatInput replaces the message being composed and publishes it.
func (p *Presence) ChatInput(text string) {
	p.mu.Lock()
	if p.record.Mode != ModeChat {
		p.mu.Unlock()
		return
	}
	text = truncateRunes(text, p.cfg.MaxChatLength)
	p.input = text
	p.record.Message = &text
	p.mu.Unlock()
	p.publish()
}

// ChatSubmit moves the composed message above the input and clears it. The
// published message stays until the next input or Escape.
func (p *Presence) ChatSubmit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.record.Mode != ModeChat {
		return
	}
	p.previous = p.input
	p.input = ""
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Reactions returns a copy of the display list, oldest first.
func (p *Presence) Reactions() []Reaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Reaction(nil), p.reactions...)
}

// Peers returns the remote participants ordered by id.
func (p *Presence) Peers() []Peer {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		out = append(out, Peer{ID: peer.ID, Color: peer.Color, Record: peer.Record.clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Presence) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Record:          p.record.clone(),
		Input:           p.input,
		PreviousMessage: p.previous,
		Reaction:        p.reaction,
		Pressed:         p.pressed,
	}
}

func (p *Presence) publish() {
	p.mu.Lock()
	r := p.record.clone()
	p.mu.Unlock()

	if err := p.channel.UpdatePresence(r); err != nil {
		logger.Warn("presence update dropped", zap.Error(err))
	}
}
