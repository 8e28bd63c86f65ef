package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"surveil/internal/config"
)

// connState is the WebSocket connection's lifecycle state.
type connState string

const (
	stateDisconnected connState = "DISCONNECTED"
	stateConnecting   connState = "CONNECTING"
	stateOpen         connState = "OPEN"
	stateFailed       connState = "FAILED"
)

// defaultSubscriptionCap is used until the venue rejects a subscribe batch
// as too large, at which point Connection halves it and retries.
const defaultSubscriptionCap = 500

// Connection owns one long-lived WebSocket socket: dial, handshake,
// heartbeat tracking, exponential-backoff reconnection, and subscription
// publishing in venue-sized chunks. It mirrors the teacher's WSFeed
// connect/reconnect loop, generalized into an explicit state machine per
// the ingestion lifecycle and with a runtime-adjusted subscription cap the
// teacher's single-purpose feed never needed: the cap starts at
// defaultSubscriptionCap (or SubscriptionCapProbe) and halves whenever the
// venue rejects a subscribe batch, whether that rejection arrives as an
// inbound error frame (the normal path; see handleErrorFrame) or, far more
// rarely, as a synchronous write failure.
type Connection struct {
	url    string
	cfg    config.IngestConfig
	logger *slog.Logger

	mu              sync.Mutex
	state           connState
	conn            *websocket.Conn
	lastHeartbeat   time.Time
	reconnectTries  int
	subscriptionCap int
	liveSubs        map[string]bool

	framesCh chan rawFrame
}

// NewConnection creates a Connection that writes decoded inbound frames to
// its Frames() channel.
func NewConnection(url string, cfg config.IngestConfig, logger *slog.Logger) *Connection {
	cap := cfg.SubscriptionCapProbe
	if cap <= 0 {
		cap = defaultSubscriptionCap
	}
	return &Connection{
		url:             url,
		cfg:             cfg,
		logger:          logger.With("component", "ingest.connection"),
		state:           stateDisconnected,
		subscriptionCap: cap,
		liveSubs:        make(map[string]bool),
		framesCh:        make(chan rawFrame, 4096),
	}
}

// Frames returns the channel of decoded inbound frames.
func (c *Connection) Frames() <-chan rawFrame { return c.framesCh }

// State reports the connection's current lifecycle state.
func (c *Connection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run maintains the connection with auto-reconnect until ctx is cancelled.
// desiredAssets is called on every (re)connect to get the asset set to
// subscribe.
func (c *Connection) Run(ctx context.Context, desiredAssets func() []string) error {
	backoff := c.cfg.ReconnectInterval
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		c.setState(stateConnecting)
		err := c.connectAndRead(ctx, desiredAssets)
		if ctx.Err() != nil {
			c.setState(stateDisconnected)
			return ctx.Err()
		}

		c.mu.Lock()
		c.reconnectTries++
		tries := c.reconnectTries
		c.mu.Unlock()

		if c.cfg.MaxReconnectAttempts > 0 && tries > c.cfg.MaxReconnectAttempts {
			c.setState(stateFailed)
			return fmt.Errorf("ingest: connection permanently failed after %d attempts: %w", tries, err)
		}

		wait := time.Duration(float64(backoff) * pow2(tries-1))
		if wait > 30*time.Second {
			wait = 30 * time.Second
		}
		c.logger.Warn("websocket disconnected, reconnecting", "error", err, "attempt", tries, "wait", wait)
		c.setState(stateDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) connectAndRead(ctx context.Context, desiredAssets func() []string) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeoutOr(c.cfg.HandshakeTimeout))
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = stateOpen
	c.lastHeartbeat = time.Now()
	c.reconnectTries = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		conn.Close()
		c.conn = nil
		c.mu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
		return nil
	})

	if err := c.publishSubscriptions(desiredAssets(), nil); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}

	c.logger.Info("websocket connected", "url", c.url)

	heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
	defer heartbeatCancel()
	go c.heartbeatLoop(heartbeatCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.heartbeatInterval() > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * c.heartbeatInterval()))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()

		c.handleMessage(msg)
	}
}

func handshakeTimeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Connection) heartbeatInterval() time.Duration {
	if c.cfg.HeartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return c.cfg.HeartbeatInterval
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	env, ok := peekEnvelope(data)
	if !ok {
		return
	}

	if env.EventType == "error" || env.EventType == "rejection" {
		c.handleErrorFrame(data)
		return
	}

	c.framesCh <- rawFrame{Type: env.EventType, AssetID: env.AssetID, ReceivedAt: time.Now(), Payload: data}
}

// handleErrorFrame parses the venue's asynchronous rejection push for a
// prior subscribe batch. A subscription-limit rejection is the real trigger
// for shrinking the runtime cap: the venue accepts the socket write itself
// (writeSubscriptionMsg succeeds) and rejects the batch out-of-band instead.
func (c *Connection) handleErrorFrame(data []byte) {
	var ef errorFrame
	if err := json.Unmarshal(data, &ef); err != nil {
		c.logger.Warn("malformed error frame", "error", err)
		return
	}
	if !isOverCapMessage(ef.Message) {
		c.logger.Warn("venue rejection", "message", ef.Message)
		return
	}
	c.shrinkSubscriptionCap()
	c.mu.Lock()
	cap := c.subscriptionCap
	c.mu.Unlock()
	c.logger.Warn("venue rejected subscription batch as over capacity, shrinking cap", "new_cap", cap)
}

// publishSubscriptions sends a subscribe message for assetIDs in chunks no
// larger than the connection's runtime subscription cap. If unsubscribe
// is non-nil, those asset IDs are unsubscribed first.
func (c *Connection) publishSubscriptions(subscribeIDs, unsubscribeIDs []string) error {
	if len(unsubscribeIDs) > 0 {
		if err := c.writeSubscriptionMsg("unsubscribe", unsubscribeIDs); err != nil {
			return err
		}
		c.mu.Lock()
		for _, id := range unsubscribeIDs {
			delete(c.liveSubs, id)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	cap := c.subscriptionCap
	c.mu.Unlock()
	if cap <= 0 {
		cap = defaultSubscriptionCap
	}

	for i := 0; i < len(subscribeIDs); {
		end := i + cap
		if end > len(subscribeIDs) {
			end = len(subscribeIDs)
		}
		chunk := subscribeIDs[i:end]
		if err := c.writeSubscriptionMsg("subscribe", chunk); err != nil {
			if isOverCapError(err) && cap > 1 {
				c.shrinkSubscriptionCap()
				cap /= 2
				continue
			}
			return err
		}
		c.mu.Lock()
		for _, id := range chunk {
			c.liveSubs[id] = true
		}
		c.mu.Unlock()
		i = end
	}
	return nil
}

func (c *Connection) shrinkSubscriptionCap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscriptionCap > 1 {
		c.subscriptionCap /= 2
	}
}

// isOverCapMessage matches the venue's subscription-limit rejection text,
// whether it arrives as an inbound error frame's message or (defensively)
// wrapped in a synchronous write error.
func isOverCapMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "subscription limit")
}

func isOverCapError(err error) bool {
	return err != nil && isOverCapMessage(err.Error())
}

type subscribeMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assetIds"`
}

func (c *Connection) writeSubscriptionMsg(op string, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ingest: connection not open")
	}

	data, err := json.Marshal(subscribeMsg{Operation: op, AssetIDs: assetIDs})
	if err != nil {
		return fmt.Errorf("marshal subscription message: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// LiveSubscriptions returns a snapshot of the asset IDs this connection
// currently believes it is subscribed to.
func (c *Connection) LiveSubscriptions() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.liveSubs))
	for k, v := range c.liveSubs {
		out[k] = v
	}
	return out
}

// Resubscribe diffs the registry's desired asset set against what this
// connection believes is live, and publishes the delta.
func (c *Connection) Resubscribe(desired []string) error {
	live := c.LiveSubscriptions()
	desiredSet := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredSet[id] = true
	}

	var toAdd, toRemove []string
	for _, id := range desired {
		if !live[id] {
			toAdd = append(toAdd, id)
		}
	}
	for id := range live {
		if !desiredSet[id] {
			toRemove = append(toRemove, id)
		}
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}
	return c.publishSubscriptions(toAdd, toRemove)
}
