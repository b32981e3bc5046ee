package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/livestore/internal/event"
)

// Settings tune the websocket connection.
type Settings struct {
	ReconnectTimeout time.Duration // wait between connection attempts
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables pings
	ResyncBuffer     int           // pending resync requests
}

// DefaultSettings returns the settings used by NewClient.
func DefaultSettings() Settings {
	return Settings{
		ReconnectTimeout: 5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ResyncBuffer:     16,
	}
}

// ErrResyncBacklog is returned by Resync when requests are not being
// drained, typically while disconnected.
var ErrResyncBacklog = errors.New("feed: resync backlog full")

// Message kinds sent to the server.
type subscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type resyncMessage struct {
	Resync []string `json:"resync"`
}

// Client subscribes to a websocket feed and enqueues the envelopes it
// receives. It reconnects until its context ends. The server redelivers
// snapshots after a reconnect.
type Client struct {
	url      string
	sink     Enqueuer
	channels []string
	settings Settings
	dialer   *websocket.Dialer
	logger   *slog.Logger

	resync chan []string

	mu          sync.Mutex
	connections int
}

// Option configures a Client.
type Option func(*Client)

// WithChannels sets the channels to subscribe to after each connect.
func WithChannels(channels ...string) Option {
	return func(c *Client) {
		c.channels = append(c.channels, channels...)
	}
}

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Client) {
		c.settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the websocket at url.
func NewClient(url string, sink Enqueuer, opts ...Option) *Client {
	c := &Client{
		url:      url,
		sink:     sink,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer = &websocket.Dialer{HandshakeTimeout: c.settings.HandshakeTimeout}
	c.resync = make(chan []string, max(c.settings.ResyncBuffer, 1))
	c.logger = c.logger.With("feed", url)
	return c
}

// Connections returns how many connections have been established.
func (c *Client) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// Resync asks the server to redeliver the snapshots of stores. It never
// blocks; the request is sent on the current or next connection.
//
// Implements registry.Resyncer.
func (c *Client) Resync(stores []string) error {
	select {
	case c.resync <- append([]string(nil), stores...):
		return nil
	default:
		return ErrResyncBacklog
	}
}

// Run connects and reads until ctx ends or the sink stops accepting
// envelopes. Connection failures are retried after ReconnectTimeout.
func (c *Client) Run(ctx context.Context) error {
	for {
		ws, err := c.connect(ctx)
		if err != nil {
			c.logger.Info("connect failed", "error", err)
		} else {
			stopped := c.serve(ctx, ws)
			if stopped {
				c.logger.Info("sink stopped, closing feed")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.settings.ReconnectTimeout):
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	sub, err := json.Marshal(subscribeMessage{Subscribe: c.channelList()})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, sub); err != nil {
		ws.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.connections++
	n := c.connections
	c.mu.Unlock()
	c.logger.Info("connected", "connection", n, "channels", len(c.channels))
	return ws, nil
}

func (c *Client) channelList() []string {
	if c.channels == nil {
		return []string{}
	}
	return c.channels
}

// serve runs one connection. It reports true when the sink stopped.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) bool {
	handleCtx, handleCancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	defer func() {
		handleCancel()
		wg.Wait()
	}()

	// Closing the socket unblocks ReadMessage.
	go func() {
		defer wg.Done()
		<-handleCtx.Done()
		ws.Close()
	}()

	go func() {
		defer wg.Done()
		defer handleCancel()
		c.writeLoop(handleCtx, ws)
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if handleCtx.Err() == nil {
				c.logger.Info("connection lost", "error", err)
			}
			return false
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text message", "type", messageType)
			continue
		}

		envs, err := event.Decode(message)
		if err != nil {
			c.logger.Warn("dropping malformed envelopes", "kept", len(envs), "error", err)
		}
		if len(envs) == 0 {
			continue
		}
		if !c.sink.Enqueue(envs...) {
			return true
		}
		c.logger.Debug("received", "envelopes", len(envs))
	}
}

// writeLoop owns all writes after the subscription: resync requests and
// pings.
func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn) {
	var ping <-chan time.Time
	if c.settings.PingInterval > 0 {
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case stores := <-c.resync:
			msg, err := json.Marshal(resyncMessage{Resync: stores})
			if err != nil {
				c.logger.Error("encode resync", "error", err)
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Info("resync write failed", "error", err)
				// Requeue for the next connection.
				select {
				case c.resync <- stores:
				default:
				}
				return
			}
			c.logger.Debug("resync requested", "stores", stores)
		case <-ping:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Info("ping failed", "error", err)
				return
			}
		}
	}
}
