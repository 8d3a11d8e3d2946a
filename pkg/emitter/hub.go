package emitter

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 256
	writeWait        = 10 * time.Second

	// DefaultBacklog is the number of recent events kept per session.
	DefaultBacklog = 4096
	// DefaultRetention is how long a finished session stays replayable.
	DefaultRetention = time.Minute
)

// room holds the listeners of one session and the events sent to it so
// far. The backlog is what late or resuming subscribers are replayed.
type room struct {
	subs    map[chan Event]struct{}
	backlog []Event
	done    bool
	gen     int
	expire  *time.Timer
}

// Hub routes events to subscribers by session id, like rooms. Sending to a
// room without subscribers succeeds and the event is kept for replay;
// unsubscribing never affects the run producing the events.
type Hub struct {
	mu        sync.Mutex
	rooms     map[string]*room
	backlog   int
	retention time.Duration
	upgrader  websocket.Upgrader
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBacklog bounds the events kept per session. The oldest are
// discarded first.
func WithBacklog(n int) HubOption {
	return func(h *Hub) {
		h.backlog = n
	}
}

// WithRetention sets how long a session stays replayable after its
// terminal event.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) {
		h.retention = d
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:     make(map[string]*room),
		backlog:   DefaultBacklog,
		retention: DefaultRetention,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// room returns the room for sessionID, creating it. Callers hold h.mu.
func (h *Hub) room(sessionID string) *room {
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{subs: make(map[chan Event]struct{})}
		h.rooms[sessionID] = r
	}
	return r
}

// Subscribe registers a listener on sessionID. Retained events with Seq
// greater than since are delivered first, in order. The returned function
// removes the listener and closes the channel; calling it more than once
// is safe.
func (h *Hub) Subscribe(sessionID string, since int) (<-chan Event, func()) {
	h.mu.Lock()
	r := h.room(sessionID)

	var replay []Event
	for _, ev := range r.backlog {
		if ev.Seq > since {
			replay = append(replay, ev)
		}
	}
	ch := make(chan Event, len(replay)+subscriberBuffer)
	for _, ev := range replay {
		ch <- ev
	}
	r.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.remove(sessionID, ch)
	}
}

// remove drops ch from the room. Callers hold h.mu.
func (h *Hub) remove(sessionID string, ch chan Event) {
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	if _, ok := r.subs[ch]; !ok {
		return
	}
	delete(r.subs, ch)
	close(ch)
	h.collect(sessionID, r)
}

// collect forgets a room nobody listens to and nothing can be replayed
// from. Callers hold h.mu.
func (h *Hub) collect(sessionID string, r *room) {
	if len(r.subs) == 0 && len(r.backlog) == 0 {
		delete(h.rooms, sessionID)
	}
}

// release discards the backlog of a finished session, unless a newer run
// reused the room since.
func (h *Hub) release(sessionID string, r *room, gen int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sessionID] != r || r.gen != gen || !r.done {
		return
	}
	r.backlog = nil
	h.collect(sessionID, r)
	log.WithField("session", sessionID).Debug("released session backlog")
}

// Subscribers returns the number of listeners on sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.subs)
	}
	return 0
}

// Backlog returns the number of events retained for sessionID.
func (h *Hub) Backlog(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.backlog)
	}
	return 0
}

// Send records ev in its session's backlog and delivers it to every
// subscriber without blocking. Subscribers whose buffer is full are
// dropped; they can resume from the last Seq they saw. A terminal event
// starts the retention period, after which the backlog is released.
func (h *Hub) Send(ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.room(ev.SessionID)
	if r.done {
		// A new run reusing the session id.
		if r.expire != nil {
			r.expire.Stop()
		}
		r.done = false
		r.gen++
		r.backlog = nil
	}

	r.backlog = append(r.backlog, ev)
	if over := len(r.backlog) - h.backlog; over > 0 {
		r.backlog = append(r.backlog[:0], r.backlog[over:]...)
	}

	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			log.WithField("session", ev.SessionID).Warn("dropping slow subscriber")
			h.remove(ev.SessionID, ch)
		}
	}

	if ev.Type.Terminal() {
		r.done = true
		gen := r.gen
		r.expire = time.AfterFunc(h.retention, func() { h.release(ev.SessionID, r, gen) })
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket subscribed to the
// session_id query parameter, replaying retained events after the optional
// since parameter. The connection is closed after the run's terminal event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	since := 0
	if s := q.Get("since"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clog := log.WithField("session", sessionID)
	events, unsubscribe := h.Subscribe(sessionID, since)
	defer func() { unsubscribe() }()
	clog.Debug("subscriber connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := since
	for {
		select {
		case <-closed:
			clog.Debug("subscriber disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				// Dropped for falling behind: pick up after the last event written.
				clog.WithField("since", last).Debug("resuming subscriber")
				events, unsubscribe = h.Subscribe(sessionID, last)
				continue
			}
			b, err := json.Marshal(ev)
			if err != nil {
				clog.WithError(err).Error("encoding event")
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				clog.WithError(err).Debug("setting write deadline")
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				clog.WithError(err).Debug("write failed")
				return
			}
			last = ev.Seq
			if ev.Type.Terminal() {
				err := conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				if err != nil {
					clog.WithError(err).Debug("writing close frame")
				}
				return
			}
		}
	}
}
