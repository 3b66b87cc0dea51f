// Package sdk is the public client for the Converse realtime service: a
// durable, authenticated, full-duplex session over one websocket, with
// liveness checks, automatic reconnection, and encrypted local history.
//
// Typical use:
//
//	client, err := sdk.New(sdk.Options{})
//	client.OnMessage(func(ev types.Event) { ... })
//	err = client.Connect(ctx)
//	id, err := client.SendText("hello")
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nuvola-ai/converse-go/internal/auth"
	"github.com/nuvola-ai/converse-go/internal/catalog"
	"github.com/nuvola-ai/converse-go/internal/config"
	"github.com/nuvola-ai/converse-go/internal/deviceinfo"
	"github.com/nuvola-ai/converse-go/internal/storage"
	"github.com/nuvola-ai/converse-go/internal/transport"
	"github.com/nuvola-ai/converse-go/internal/wire"
	"github.com/nuvola-ai/converse-go/pkg/logger"
	"github.com/nuvola-ai/converse-go/pkg/types"
)

// Options tunes a Client. The zero value selects defaults for every field.
type Options struct {
	// Config overrides the environment-derived configuration.
	Config *config.Config

	// BaseReconnectDelay is the delay before the first reconnect attempt.
	BaseReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	MaxReconnectAttempts int

	// HeartbeatInterval is the gap between liveness pings.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long to wait for a pong.
	HeartbeatTimeout time.Duration

	// DisableHistory skips local history retention entirely.
	DisableHistory bool
}

// Client is the SDK entry point. All methods are safe for concurrent use.
type Client struct {
	cfg       *config.Config
	auth      *auth.Manager
	catalog   *catalog.Client
	history   *storage.HistoryStore
	transport *transport.Transport

	mu                sync.Mutex
	sessionID         string
	onConnected       func(sessionID string)
	onConnectionState func(up bool)
	onMessage         func(ev types.Event)
	onThinking        func(ev types.Event)
	onSuggestions     func(ev types.Event)
	onRecommendations func(ev types.Event)
	onError           func(message string, fatal bool)
}

// New builds a Client from Options.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	master, err := storage.GetOrCreateSecretKey(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("master secret: %w", err)
	}

	credStore, err := auth.NewCredentialStore(cfg.TokenFile, master)
	if err != nil {
		return nil, err
	}
	authManager := auth.NewManager(cfg.ServerURL, credStore)

	c := &Client{
		cfg:     cfg,
		auth:    authManager,
		catalog: catalog.NewClient(cfg.ServerURL, authManager),
	}

	var history transport.History
	if !opts.DisableHistory {
		store, err := storage.NewHistoryStore(cfg.ConverseHome, master)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		c.history = store
		history = store
	}

	policy := transport.DefaultPolicy()
	if opts.BaseReconnectDelay > 0 {
		policy.BaseDelay = opts.BaseReconnectDelay
	}
	if opts.MaxReconnectAttempts > 0 {
		policy.MaxAttempts = opts.MaxReconnectAttempts
	}
	heartbeat := transport.DefaultHeartbeat()
	if opts.HeartbeatInterval > 0 {
		heartbeat.Interval = opts.HeartbeatInterval
	}
	if opts.HeartbeatTimeout > 0 {
		heartbeat.Timeout = opts.HeartbeatTimeout
	}

	c.transport = transport.New(transport.Options{
		Policy:    policy,
		Heartbeat: heartbeat,
		History:   history,
	})
	c.wireHandlers()
	return c, nil
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
	defaultErr    error
)

// Default returns a process-wide shared Client built from environment
// configuration. The first call constructs it; later calls return the same
// instance.
func Default() (*Client, error) {
	defaultOnce.Do(func() {
		defaultClient, defaultErr = New(Options{})
	})
	return defaultClient, defaultErr
}

// wireHandlers installs the internal transport callbacks once. Consumer
// registrations replace only the SDK-held function, so SDK bookkeeping
// (session metadata, logging) survives re-registration.
func (c *Client) wireHandlers() {
	h := c.transport.Handlers()

	h.OnConnected(func(sessionID string) {
		c.mu.Lock()
		c.sessionID = sessionID
		fn := c.onConnected
		c.mu.Unlock()

		if err := storage.UpdateSessionMeta(c.cfg.ConverseHome, sessionID, func(meta *storage.SessionMeta) {
			meta.Endpoint = c.cfg.SocketURL
			meta.LastConnectedAtMs = time.Now().UnixMilli()
		}); err != nil {
			logger.Warnf("sdk: record session meta: %v", err)
		}
		if fn != nil {
			fn(sessionID)
		}
	})

	h.OnConnectionChanged(func(up bool) {
		c.mu.Lock()
		fn := c.onConnectionState
		c.mu.Unlock()
		if fn != nil {
			fn(up)
		}
	})

	h.OnMessage(func(env wire.Envelope) {
		c.mu.Lock()
		fn := c.onMessage
		sessionID := c.sessionID
		c.mu.Unlock()

		if sessionID != "" {
			if err := storage.UpdateSessionMeta(c.cfg.ConverseHome, sessionID, func(meta *storage.SessionMeta) {
				meta.MessageCount++
			}); err != nil {
				logger.Debugf("sdk: bump message count: %v", err)
			}
		}
		if fn != nil {
			fn(toEvent(env))
		}
	})

	h.OnThinking(func(env wire.Envelope) { c.forward(env, func() func(types.Event) { return c.onThinking }) })
	h.OnSuggestions(func(env wire.Envelope) { c.forward(env, func() func(types.Event) { return c.onSuggestions }) })
	h.OnRecommendations(func(env wire.Envelope) { c.forward(env, func() func(types.Event) { return c.onRecommendations }) })

	h.OnError(func(cond transport.Condition) {
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(cond.String(), cond.Fatal)
		}
	})
}

func (c *Client) forward(env wire.Envelope, pick func() func(types.Event)) {
	c.mu.Lock()
	fn := pick()
	c.mu.Unlock()
	if fn != nil {
		fn(toEvent(env))
	}
}

func toEvent(env wire.Envelope) types.Event {
	return types.Event{Op: string(env.Op), Body: json.RawMessage(env.Body)}
}

// SetCredentials installs the bearer token pair used for the handshake and
// caches it encrypted on disk.
func (c *Client) SetCredentials(token, refreshToken string) error {
	return c.auth.SetCredentials(auth.Credentials{Token: token, RefreshToken: refreshToken})
}

// Connect brings the realtime session up. It validates credentials, collects
// device metadata, and starts the connection; establishment is reported
// through the OnConnected callback.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	device := deviceinfo.Collect()
	if id, err := storage.GetOrCreateDeviceID(c.deviceFile()); err == nil {
		device.DeviceID = id
	} else {
		logger.Warnf("sdk: device id unavailable: %v", err)
	}

	handle := transport.SessionHandle{
		Token:       token,
		SessionID:   uuid.NewString(),
		EndpointURL: c.cfg.SocketURL,
		Device:      device,
	}
	return c.transport.Connect(handle)
}

// deviceFile resolves the stable device id path, deriving it from the state
// home when the config predates the explicit field.
func (c *Client) deviceFile() string {
	if c.cfg.DeviceFile != "" {
		return c.cfg.DeviceFile
	}
	return filepath.Join(c.cfg.ConverseHome, "device.id")
}

// Send transmits an opaque JSON payload as a message and returns its
// client-generated local id.
func (c *Client) Send(payload json.RawMessage) (string, error) {
	return c.transport.Send(payload)
}

// SendText transmits a plain text message.
func (c *Client) SendText(text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	return c.Send(payload)
}

// Disconnect tears the session down deliberately. Idempotent.
func (c *Client) Disconnect() error {
	return c.transport.Disconnect()
}

// Close disconnects and releases all client resources.
func (c *Client) Close() error {
	c.transport.Close()
	return nil
}

// SessionID returns the id announced for the current session, or empty
// before the connected notification.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connected reports whether the link is currently established.
func (c *Client) Connected() bool {
	return c.transport.State().FSM == transport.StateConnected
}

// History returns the locally retained frames for a session, oldest first.
func (c *Client) History(sessionID string) ([]types.HistoryEntry, error) {
	if c.history == nil {
		return nil, nil
	}
	records, err := c.history.Load(sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]types.HistoryEntry, len(records))
	for i, record := range records {
		entries[i] = types.HistoryEntry{
			ReceivedAtMs: record.ReceivedAtMs,
			Event:        toEvent(record.Envelope),
		}
	}
	return entries, nil
}

// Sessions lists locally known session ids, most recently active first.
func (c *Client) Sessions() ([]string, error) {
	return storage.ListSessions(c.cfg.ConverseHome)
}

// Assistants lists the assistants available to this account.
func (c *Client) Assistants(ctx context.Context) ([]types.Assistant, error) {
	return c.catalog.Assistants(ctx)
}

// Prompts lists the starter prompts for new sessions.
func (c *Client) Prompts(ctx context.Context) ([]types.Prompt, error) {
	return c.catalog.Prompts(ctx)
}

// OnConnected registers the session-established callback, replacing any
// previous one. The argument is the announced session id.
func (c *Client) OnConnected(fn func(sessionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// OnConnectionChanged registers the connectivity callback, replacing any
// previous one.
func (c *Client) OnConnectionChanged(fn func(up bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = fn
}

// OnMessage registers the primary content callback, replacing any previous
// one.
func (c *Client) OnMessage(fn func(ev types.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnThinking registers the turn-progress callback, replacing any previous
// one.
func (c *Client) OnThinking(fn func(ev types.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onThinking = fn
}

// OnSuggestions registers the suggestion-chip callback, replacing any
// previous one.
func (c *Client) OnSuggestions(fn func(ev types.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuggestions = fn
}

// OnRecommendations registers the recommendations callback, replacing any
// previous one. It fires after the OnMessage callback for the same frame.
func (c *Client) OnRecommendations(fn func(ev types.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRecommendations = fn
}

// OnError registers the error callback, replacing any previous one. fatal
// reports conditions that ended the session (auth rejection, retry budget
// exhaustion).
func (c *Client) OnError(fn func(message string, fatal bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}
