package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/feed"
	"github.com/castdeck/api/internal/model"
)

const (
	ChannelsTopic    = "channels"
	stateTopicPrefix = "state:"

	clientBuffer = 256
	pingInterval = 30 * time.Second
)

// StateTopic names the topic carrying one channel's state document.
func StateTopic(channelID string) string {
	return stateTopicPrefix + channelID
}

// Feed is the change feed the hub fans out.
type Feed interface {
	SubscribeState(ctx context.Context, channelID string, opts ...feed.SubscribeOption) (*feed.Subscription[model.ChannelState], error)
	SubscribeChannels(ctx context.Context, opts ...feed.SubscribeOption) (*feed.Subscription[model.ChannelEvent], error)
}

// Client represents a WebSocket client
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func NewClient(topic string, conn *websocket.Conn) *Client {
	return &Client{
		Topic: topic,
		Conn:  conn,
		Send:  make(chan []byte, clientBuffer),
		done:  make(chan struct{}),
	}
}

// Done is closed when the hub drops the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// offer queues a message without blocking. It reports false when the
// client is too slow to keep up.
func (c *Client) offer(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// topic is one shared feed subscription and the clients reading it. The
// cache holds the latest message per row, in first-seen order, for
// clients joining late.
type topic struct {
	name    string
	clients map[*Client]bool
	cache   map[string][]byte
	order   []string
	cancel  context.CancelFunc
}

func (t *topic) remember(key string, data []byte) {
	if _, ok := t.cache[key]; !ok {
		t.order = append(t.order, key)
	}
	t.cache[key] = data
}

// broadcastMessage is produced by a topic pump. A nil data with a non-nil
// err ends the topic.
type broadcastMessage struct {
	topic    *topic
	key      string
	data     []byte
	snapshot []byte
	err      error
}

// Hub maintains active WebSocket connections
type Hub struct {
	feed   Feed
	logger zerolog.Logger

	topics map[string]*topic

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Messages from topic pumps
	broadcast chan *broadcastMessage

	stopped  chan struct{}
	stopOnce sync.Once

	pumps sync.WaitGroup
	mu    sync.RWMutex
}

// NewHub creates a new Hub
func NewHub(f Feed, logger zerolog.Logger) *Hub {
	return &Hub{
		feed:       f,
		logger:     logger,
		topics:     make(map[string]*topic),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns once ctx is done and every
// topic subscription is closed.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		h.stopOnce.Do(func() { close(h.stopped) })
		h.mu.Lock()
		for name, t := range h.topics {
			t.cancel()
			for client := range t.clients {
				client.stop()
			}
			delete(h.topics, name)
		}
		h.mu.Unlock()
		h.pumps.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			t, ok := h.topics[client.Topic]
			if !ok {
				t = h.open(ctx, client.Topic)
				h.topics[client.Topic] = t
			}
			t.clients[client] = true
			for _, key := range t.order {
				client.offer(t.cache[key])
			}
			h.mu.Unlock()
			h.logger.Debug().Str("topic", client.Topic).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug().Str("topic", client.Topic).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg)
			h.mu.Unlock()
		}
	}
}

// remove drops a client and closes the topic subscription after the last
// one leaves. Callers hold mu.
func (h *Hub) remove(client *Client) {
	client.stop()
	t, ok := h.topics[client.Topic]
	if !ok {
		return
	}
	delete(t.clients, client)
	if len(t.clients) == 0 {
		t.cancel()
		delete(h.topics, client.Topic)
	}
}

// deliver fans a pump message out. Callers hold mu.
func (h *Hub) deliver(msg *broadcastMessage) {
	t := msg.topic
	if h.topics[t.name] != t {
		// Topic was closed and maybe reopened since.
		return
	}

	if msg.err != nil {
		h.logger.Warn().Err(msg.err).Str("topic", t.name).Msg("topic feed ended")
		data, _ := json.Marshal(errorMessage(msg.err))
		for client := range t.clients {
			client.offer(data)
			client.stop()
		}
		t.cancel()
		delete(h.topics, t.name)
		return
	}

	t.remember(msg.key, msg.snapshot)
	for client := range t.clients {
		if !client.offer(msg.data) {
			h.logger.Warn().Str("topic", t.name).Msg("dropping slow client")
			h.remove(client)
		}
	}
}

func errorMessage(err error) model.WSErrorMessage {
	code := "SUBSCRIPTION_LOST"
	if errors.Is(err, model.ErrChannelNotFound) {
		code = "NOT_FOUND"
	}
	return model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Error: model.WSError{Code: code, Message: err.Error()},
	}
}

// open starts the pump for a new topic. Callers hold mu.
func (h *Hub) open(parent context.Context, name string) *topic {
	ctx, cancel := context.WithCancel(parent)
	t := &topic{
		name:    name,
		clients: make(map[*Client]bool),
		cache:   make(map[string][]byte),
		cancel:  cancel,
	}

	h.pumps.Add(1)
	if channelID, ok := strings.CutPrefix(name, stateTopicPrefix); ok {
		go pump(ctx, h, t, func(ctx context.Context) (*feed.Subscription[model.ChannelState], error) {
			return h.feed.SubscribeState(ctx, channelID)
		}, encodeState)
	} else {
		go pump(ctx, h, t, func(ctx context.Context) (*feed.Subscription[model.ChannelEvent], error) {
			return h.feed.SubscribeChannels(ctx)
		}, encodeEvent)
	}
	return t
}

func encodeState(st model.ChannelState) (*broadcastMessage, error) {
	data, err := json.Marshal(model.WSStateMessage{
		Type:      model.WSMessageTypeState,
		ChannelID: st.ChannelID,
		State:     &st,
	})
	if err != nil {
		return nil, err
	}
	return &broadcastMessage{key: st.ChannelID, data: data, snapshot: data}, nil
}

// encodeEvent caches every event as a snapshot of the row so late joiners
// do not replay transitions.
func encodeEvent(ev model.ChannelEvent) (*broadcastMessage, error) {
	data, err := json.Marshal(model.WSChannelMessage{Type: model.WSMessageTypeChannel, Event: &ev})
	if err != nil {
		return nil, err
	}
	snap := ev
	snap.Type = model.ChannelEventSnapshot
	snap.PreviousStatus = ev.Channel.PlayerStatus
	snapshot, err := json.Marshal(model.WSChannelMessage{Type: model.WSMessageTypeChannel, Event: &snap})
	if err != nil {
		return nil, err
	}
	return &broadcastMessage{key: ev.Channel.ID, data: data, snapshot: snapshot}, nil
}

func pump[T any](
	ctx context.Context,
	h *Hub,
	t *topic,
	subscribe func(context.Context) (*feed.Subscription[T], error),
	encode func(T) (*broadcastMessage, error),
) {
	defer h.pumps.Done()

	send := func(msg *broadcastMessage) bool {
		msg.topic = t
		select {
		case h.broadcast <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sub, err := subscribe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			send(&broadcastMessage{err: err})
		}
		return
	}
	defer sub.Close()

	for v := range sub.Updates() {
		msg, err := encode(v)
		if err != nil {
			h.logger.Error().Err(err).Str("topic", t.name).Msg("failed to encode update")
			continue
		}
		if !send(msg) {
			return
		}
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		send(&broadcastMessage{err: err})
	}
}

// Register adds a new client. After Run has returned the client is
// stopped right away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.stop()
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// ClientCount reports the clients attached to a topic.
func (h *Hub) ClientCount(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t, ok := h.topics[name]; ok {
		return len(t.clients)
	}
	return 0
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, topicName string) {
	client := NewClient(topicName, c)

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.Done():
				// Flush what was queued before the drop, then close.
				for {
					select {
					case message := <-client.Send:
						if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
							return
						}
						continue
					default:
					}
					break
				}
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("topic", topicName).Msg("websocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.offer(data)
		}
	}
}
