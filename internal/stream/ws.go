package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/progrunhq/progrun/internal/platform/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// MessageType defines WebSocket message types
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeEvent       MessageType = "event"
	MessageTypeError       MessageType = "error"
)

// Channel prefixes understood by the subscribe protocol.
const (
	channelExecutionPrefix = "execution:"
	channelUserPrefix      = "user:"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client represents one WebSocket connection
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte

	mu            sync.Mutex
	subscriptions map[string]*channelSub
	handler       *WSHandler
}

type channelSub struct {
	sub  *Subscriber
	done chan struct{}
}

// WSHandler exposes the streaming hub over WebSocket
type WSHandler struct {
	hub *Hub
	log logger.Logger
}

// NewWSHandler creates a WebSocket handler for the hub
func NewWSHandler(hub *Hub, log logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:            uuid.New().String(),
		UserID:        r.URL.Query().Get("userId"),
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]*channelSub),
		handler:       h,
	}

	go client.writePump()
	go client.readPump()

	welcome := Message{
		Type:      MessageTypeEvent,
		Event:     "connected",
		Data:      json.RawMessage(`{"message":"connected to progrun stream"}`),
		Timestamp: time.Now(),
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}
}

func (c *Client) readPump() {
	defer func() {
		c.closeSubscriptions()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.log.Debug("websocket closed", "client_id", c.ID, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Channel)

	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.Channel)

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Timestamp: time.Now()})
	}
}

func (c *Client) subscribe(channel string) {
	if channel == "" {
		return
	}

	c.mu.Lock()
	if _, exists := c.subscriptions[channel]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var sub *Subscriber
	switch {
	case strings.HasPrefix(channel, channelExecutionPrefix):
		executionID := strings.TrimPrefix(channel, channelExecutionPrefix)
		joined, err := c.handler.hub.JoinExecution(executionID)
		if err != nil {
			c.reply(Message{
				Type:      MessageTypeError,
				Channel:   channel,
				Event:     "subscribe_failed",
				Data:      json.RawMessage(`{"error":"` + err.Error() + `"}`),
				Timestamp: time.Now(),
			})
			return
		}
		sub = joined

	case strings.HasPrefix(channel, channelUserPrefix):
		sub = c.handler.hub.JoinUser(strings.TrimPrefix(channel, channelUserPrefix))

	default:
		return
	}

	cs := &channelSub{sub: sub, done: make(chan struct{})}
	c.mu.Lock()
	c.subscriptions[channel] = cs
	c.mu.Unlock()

	go c.pump(channel, cs)

	c.reply(Message{
		Type:      MessageTypeEvent,
		Event:     "subscribed",
		Channel:   channel,
		Timestamp: time.Now(),
	})
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	cs, ok := c.subscriptions[channel]
	if ok {
		delete(c.subscriptions, channel)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.leave(channel, cs)
	c.reply(Message{
		Type:      MessageTypeEvent,
		Event:     "unsubscribed",
		Channel:   channel,
		Timestamp: time.Now(),
	})
}

// pump forwards hub events for one channel to the connection
func (c *Client) pump(channel string, cs *channelSub) {
	for {
		select {
		case event, ok := <-cs.sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			msg := Message{
				Type:      MessageTypeEvent,
				Channel:   channel,
				Event:     string(event.Type),
				Data:      data,
				Timestamp: time.Now(),
			}
			out, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case c.send <- out:
			case <-cs.done:
				return
			}

		case <-cs.done:
			return
		}
	}
}

func (c *Client) leave(channel string, cs *channelSub) {
	close(cs.done)
	switch {
	case strings.HasPrefix(channel, channelExecutionPrefix):
		c.handler.hub.LeaveExecution(strings.TrimPrefix(channel, channelExecutionPrefix), cs.sub)
	case strings.HasPrefix(channel, channelUserPrefix):
		c.handler.hub.LeaveUser(strings.TrimPrefix(channel, channelUserPrefix), cs.sub)
	}
}

func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]*channelSub)
	c.mu.Unlock()

	for channel, cs := range subs {
		c.leave(channel, cs)
	}
}

func (c *Client) reply(msg Message) {
	if data, err := json.Marshal(msg); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
}
