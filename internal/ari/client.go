package ari

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"aridialer/internal/config"
)

const (
	reconnectInterval = 3 * time.Second
	eventBufferSize   = 2000
)

// Client talks to Asterisk through ARI: commands over REST, events over
// the application websocket.
type Client struct {
	cfg  config.ARIConfig
	http *resty.Client

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	events    chan Event
	done      chan struct{}
}

// NewClient creates an ARI client. Connect must be called before use.
func NewClient(cfg config.ARIConfig) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(base, "/ari") {
		base += "/ari"
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetTimeout(15 * time.Second)

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}
}

// Connect verifies REST reachability and opens the event websocket for
// the configured Stasis application.
func (c *Client) Connect() error {
	resp, err := c.http.R().Get("/asterisk/info")
	if err != nil {
		return fmt.Errorf("ARI not reachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ARI rejected credentials: %s", resp.Status())
	}

	if err := c.openWebsocket(); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	go c.readEvents()
	log.Printf("[ARI] Connected, app=%s", c.cfg.App)
	return nil
}

func (c *Client) openWebsocket() error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("opening ARI event websocket: %w", err)
	}

	c.mu.Lock()
	c.ws = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid ARI URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/ari") {
		u.Path += "/ari"
	}
	u.Path += "/events"

	q := u.Query()
	q.Set("app", c.cfg.App)
	q.Set("api_key", c.cfg.Username+":"+c.cfg.Password)
	q.Set("subscribeAll", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events returns the stream of decoded ARI events.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) readEvents() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.ws
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			log.Printf("[ARI] Websocket read error: %v", err)
			c.reconnect()
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			log.Printf("[ARI] Dropping undecodable event: %v", err)
			continue
		}
		if ev == nil {
			continue // event type we do not consume
		}

		select {
		case c.events <- ev:
		default:
			log.Printf("[ARI] Event buffer full, dropping %s", ev.Kind())
		}
	}
}

// reconnect retries the websocket until it comes back or Close is called.
// A successful reconnect starts a fresh read goroutine.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.connected = false
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		log.Printf("[ARI] Reconnecting in %s...", reconnectInterval)
		time.Sleep(reconnectInterval)

		if err := c.openWebsocket(); err != nil {
			log.Printf("[ARI] Reconnect failed: %v", err)
			continue
		}

		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()

		log.Printf("[ARI] Reconnected")
		go c.readEvents()
		return
	}
}

// Close shuts the client down.
func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}

// Originate asks Asterisk to place a new call into the Stasis app.
func (c *Client) Originate(req OriginateRequest) (*Channel, error) {
	var ch Channel
	resp, err := c.http.R().SetBody(req).SetResult(&ch).Post("/channels")
	if err != nil {
		return nil, fmt.Errorf("originate %s: %w", req.Endpoint, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("originate %s: %s: %s", req.Endpoint, resp.Status(), resp.String())
	}
	return &ch, nil
}

// Answer answers a channel.
func (c *Client) Answer(channelID string) error {
	resp, err := c.http.R().Post("/channels/" + channelID + "/answer")
	if err != nil {
		return fmt.Errorf("answer %s: %w", channelID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("answer %s: %s", channelID, resp.Status())
	}
	return nil
}

// Hangup hangs a channel up. A 404 means the channel is already gone,
// which callers treat as success.
func (c *Client) Hangup(channelID string) error {
	resp, err := c.http.R().Delete("/channels/" + channelID)
	if err != nil {
		return fmt.Errorf("hangup %s: %w", channelID, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("hangup %s: %s", channelID, resp.Status())
	}
	return nil
}

// CreateBridge creates a named mixing bridge.
func (c *Client) CreateBridge(name string) (*Bridge, error) {
	var br Bridge
	resp, err := c.http.R().
		SetQueryParam("type", "mixing").
		SetQueryParam("name", name).
		SetResult(&br).
		Post("/bridges")
	if err != nil {
		return nil, fmt.Errorf("create bridge %s: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create bridge %s: %s", name, resp.Status())
	}
	return &br, nil
}

// AddChannel puts a channel into a bridge.
func (c *Client) AddChannel(bridgeID, channelID string) error {
	resp, err := c.http.R().
		SetQueryParam("channel", channelID).
		Post("/bridges/" + bridgeID + "/addChannel")
	if err != nil {
		return fmt.Errorf("add channel %s to bridge %s: %w", channelID, bridgeID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("add channel %s to bridge %s: %s", channelID, bridgeID, resp.Status())
	}
	return nil
}

// DestroyBridge tears a bridge down. 404 is tolerated.
func (c *Client) DestroyBridge(bridgeID string) error {
	resp, err := c.http.R().Delete("/bridges/" + bridgeID)
	if err != nil {
		return fmt.Errorf("destroy bridge %s: %w", bridgeID, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("destroy bridge %s: %s", bridgeID, resp.Status())
	}
	return nil
}

// RecordBridge starts a recording on a bridge.
func (c *Client) RecordBridge(bridgeID string, req RecordRequest) (*LiveRecording, error) {
	var rec LiveRecording
	resp, err := c.http.R().SetBody(req).SetResult(&rec).Post("/bridges/" + bridgeID + "/record")
	if err != nil {
		return nil, fmt.Errorf("record bridge %s: %w", bridgeID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("record bridge %s: %s: %s", bridgeID, resp.Status(), resp.String())
	}
	return &rec, nil
}

// StopBridgeMedia stops media operations (here: the recording) on a bridge.
func (c *Client) StopBridgeMedia(bridgeID string) error {
	resp, err := c.http.R().
		SetQueryParam("media", "recording").
		Post("/bridges/" + bridgeID + "/stopMedia")
	if err != nil {
		return fmt.Errorf("stop media on bridge %s: %w", bridgeID, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 404 {
			return fmt.Errorf("stop media on bridge %s: not found", bridgeID)
		}
		return fmt.Errorf("stop media on bridge %s: %s", bridgeID, resp.Status())
	}
	return nil
}

// StopRecording stops a live recording, keeping the file.
func (c *Client) StopRecording(name string) error {
	resp, err := c.http.R().Post("/recordings/live/" + name + "/stop")
	if err != nil {
		return fmt.Errorf("stop recording %s: %w", name, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 404 {
			return fmt.Errorf("stop recording %s: not found", name)
		}
		return fmt.Errorf("stop recording %s: %s", name, resp.Status())
	}
	return nil
}
