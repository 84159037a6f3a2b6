package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tushkiz/go-tiny-orchestrator/internal/clock"
	"github.com/tushkiz/go-tiny-orchestrator/internal/config"
)

const writeWait = 10 * time.Second

var ErrNotRunning = errors.New("events: hub is not running")

// client is one websocket connection. All mutable fields are guarded by the
// hub mutex.
type client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	userID       string
	channels     map[string]struct{}
	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
}

// ClientInfo is a copy of a client's state.
type ClientInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	Channels     []string  `json:"channels"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type ChannelInfo struct {
	Subscribers int      `json:"subscribers"`
	ClientIDs   []string `json:"clientIds"`
}

type Stats struct {
	TotalClients  int     `json:"totalClients"`
	TotalChannels int     `json:"totalChannels"`
	Running       bool    `json:"running"`
	Uptime        float64 `json:"uptime"` // seconds
}

// Hub is the in-memory broadcast broker behind the /ws endpoint. Channels
// are created on first subscribe and removed when their last member leaves.
// Slow clients lose messages rather than block the sender.
type Hub struct {
	mu        sync.Mutex
	clients   map[string]*client
	channels  map[string]map[string]struct{}
	running   bool
	startedAt time.Time
	stopSweep context.CancelFunc

	cfg       config.HubConfig
	clock     clock.Clock
	logger    *log.Logger
	newID     func() string
	upgrader  websocket.Upgrader
	onConnect func(clientID string)
	onMessage func(clientID string, m Custom)
}

type Option func(*Hub)

func WithClock(c clock.Clock) Option { return func(h *Hub) { h.clock = c } }

func WithLogger(l *log.Logger) Option { return func(h *Hub) { h.logger = l } }

func WithIDGenerator(fn func() string) Option { return func(h *Hub) { h.newID = fn } }

// OnConnect runs after a client has been registered and welcomed.
func OnConnect(fn func(clientID string)) Option { return func(h *Hub) { h.onConnect = fn } }

// OnMessage receives every Custom command.
func OnMessage(fn func(clientID string, m Custom)) Option { return func(h *Hub) { h.onMessage = fn } }

func NewHub(cfg config.HubConfig, opts ...Option) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	h := &Hub{
		clients:  make(map[string]*client),
		channels: make(map[string]map[string]struct{}),
		cfg:      cfg,
		clock:    clock.Real{},
		logger:   log.Default(),
		newID:    func() string { return "client_" + uuid.NewString() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Start accepts connections and launches the idle sweep.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.running = true
	h.startedAt = h.clock.Now()
	h.stopSweep = cancel
	h.mu.Unlock()

	if h.cfg.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(h.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.SweepIdle()
				}
			}
		}()
	}
	h.logger.Println("events: hub started")
}

// Stop disconnects every client and refuses new connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.stopSweep
	h.stopSweep = nil
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	cancel()
	for _, c := range all {
		h.remove(c, websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Println("events: hub stopped")
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		http.Error(w, ErrNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("events: upgrade failed: %v", err)
		return
	}

	now := h.clock.Now()
	c := &client{
		id:           h.newID(),
		conn:         conn,
		send:         make(chan []byte, h.cfg.SendBuffer),
		done:         make(chan struct{}),
		channels:     make(map[string]struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	h.sendLocked(c, h.encode(Message{
		Type: TypeWelcome,
		Data: map[string]string{"clientId": c.id, "message": "connected to orchestrator hub"},
	}))
	h.mu.Unlock()
	h.logger.Printf("events: client connected: %s", c.id)

	go h.writePump(c)
	if h.onConnect != nil {
		h.onConnect(c.id)
	}
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			h.remove(c, code, "connection closed")
			return
		}
		h.handle(c, data)
	}
}

func (h *Hub) writePump(c *client) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.logger.Printf("events: write to %s failed: %v", c.id, err)
				h.remove(c, websocket.CloseAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// handle dispatches one inbound frame. A malformed frame is answered with an
// error message to the sender only.
func (h *Hub) handle(c *client, data []byte) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.lastActivity = h.clock.Now()

	cmd, err := ParseCommand(data)
	if err != nil {
		h.sendLocked(c, h.encode(Message{Type: TypeError, Data: map[string]string{"message": err.Error()}}))
		h.mu.Unlock()
		return
	}

	switch cmd := cmd.(type) {
	case Subscribe:
		h.joinLocked(c, cmd.Channel)
		h.sendLocked(c, h.encode(Message{Type: TypeSubscribed, Data: map[string]string{"channel": cmd.Channel}}))
		h.mu.Unlock()
		h.logger.Printf("events: %s subscribed to %s", c.id, cmd.Channel)
	case Unsubscribe:
		h.leaveLocked(c, cmd.Channel)
		h.sendLocked(c, h.encode(Message{Type: TypeUnsubscribed, Data: map[string]string{"channel": cmd.Channel}}))
		h.mu.Unlock()
		h.logger.Printf("events: %s unsubscribed from %s", c.id, cmd.Channel)
	case Auth:
		c.userID = cmd.UserID
		h.sendLocked(c, h.encode(Message{Type: TypeAuthenticated, Data: map[string]string{"userId": cmd.UserID}}))
		h.mu.Unlock()
		h.logger.Printf("events: %s authenticated as %s", c.id, cmd.UserID)
	case Broadcast:
		b := h.encode(Message{Type: TypeBroadcast, Data: cmd.Data, Channel: cmd.Channel, UserID: c.userID})
		for id := range h.channels[cmd.Channel] {
			h.sendLocked(h.clients[id], b)
		}
		h.mu.Unlock()
	case Custom:
		h.mu.Unlock()
		if h.onMessage != nil {
			h.onMessage(c.id, cmd)
		}
	default:
		h.mu.Unlock()
	}
}

func (h *Hub) joinLocked(c *client, channel string) {
	members := h.channels[channel]
	if members == nil {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[c.id] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) leaveLocked(c *client, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.channels, channel)
}

// remove is the single teardown path for disconnects, idle sweeps and Stop.
// It is safe to call more than once.
func (h *Hub) remove(c *client, code int, reason string) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	for ch := range c.channels {
		h.leaveLocked(c, ch)
	}
	delete(h.clients, c.id)
	close(c.done)
	h.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.conn.Close()
	h.logger.Printf("events: client disconnected: %s (%d: %s)", c.id, code, reason)
}

// SweepIdle closes every client idle for longer than the configured idle
// timeout and returns how many were removed.
func (h *Hub) SweepIdle() int {
	if h.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := h.clock.Now()
	h.mu.Lock()
	var idle []*client
	for _, c := range h.clients {
		if now.Sub(c.lastActivity) > h.cfg.IdleTimeout {
			idle = append(idle, c)
		}
	}
	h.mu.Unlock()

	for _, c := range idle {
		h.remove(c, websocket.CloseNormalClosure, "inactive client")
	}
	return len(idle)
}

func (h *Hub) encode(m Message) []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = h.clock.Now()
	}
	b, err := json.Marshal(m)
	if err != nil {
		h.logger.Printf("events: encode %s message: %v", m.Type, err)
		return nil
	}
	return b
}

// sendLocked queues b for c. Closed clients and full buffers drop the message.
func (h *Hub) sendLocked(c *client, b []byte) bool {
	if c == nil || c.closed || b == nil {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		h.logger.Printf("events: dropping message for slow client %s", c.id)
		return false
	}
}

// SendToClient reports whether the message was queued. Unknown or closed
// clients are a no-op.
func (h *Hub) SendToClient(clientID string, m Message) bool {
	b := h.encode(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendLocked(h.clients[clientID], b)
}

// BroadcastToChannel returns the number of clients the message was queued for.
func (h *Hub) BroadcastToChannel(channel string, m Message) int {
	if m.Channel == "" {
		m.Channel = channel
	}
	b := h.encode(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.channels[channel] {
		if h.sendLocked(h.clients[id], b) {
			n++
		}
	}
	return n
}

func (h *Hub) BroadcastToAll(m Message) int {
	b := h.encode(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.clients {
		if h.sendLocked(c, b) {
			n++
		}
	}
	return n
}

// SendToUser delivers to every connection authenticated as userID.
func (h *Hub) SendToUser(userID string, m Message) int {
	if m.UserID == "" {
		m.UserID = userID
	}
	b := h.encode(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.clients {
		if c.userID == userID && h.sendLocked(c, b) {
			n++
		}
	}
	return n
}

func (h *Hub) SendTaskStatus(taskID string, status any) int {
	return h.BroadcastToChannel(ChannelTaskUpdates, Message{
		Type: TypeTaskStatus,
		Data: map[string]any{"taskId": taskID, "status": status},
	})
}

func (h *Hub) BroadcastAlert(alert any) int {
	return h.BroadcastToChannel(ChannelAlerts, Message{Type: TypeAlert, Data: alert})
}

func (h *Hub) SendSystemMetrics(metrics any) int {
	return h.BroadcastToChannel(ChannelSystemMetrics, Message{Type: TypeSystemMetrics, Data: metrics})
}

func (h *Hub) SendUserUpdate(userID string, update any) int {
	return h.SendToUser(userID, Message{Type: TypeUserUpdate, Data: update})
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{
		TotalClients:  len(h.clients),
		TotalChannels: len(h.channels),
		Running:       h.running,
	}
	if h.running {
		s.Uptime = h.clock.Now().Sub(h.startedAt).Seconds()
	}
	return s
}

func (h *Hub) ChannelInfo(channel string) (ChannelInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return ChannelInfo{}, false
	}
	info := ChannelInfo{Subscribers: len(members), ClientIDs: make([]string, 0, len(members))}
	for id := range members {
		info.ClientIDs = append(info.ClientIDs, id)
	}
	sort.Strings(info.ClientIDs)
	return info, true
}

func (h *Hub) ClientInfo(clientID string) (ClientInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return ClientInfo{}, false
	}
	info := ClientInfo{
		ID:           c.id,
		UserID:       c.userID,
		Channels:     make([]string, 0, len(c.channels)),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
	for ch := range c.channels {
		info.Channels = append(info.Channels, ch)
	}
	sort.Strings(info.Channels)
	return info, true
}
