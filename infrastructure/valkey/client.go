package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout is the maximum time to wait for initial connection
const DefaultConnectTimeout = 5 * time.Second

// Config holds the configuration for creating a Valkey client
type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// ConfigFrom maps the database section of the application config.
func ConfigFrom(cfg config.DatabaseConfig) Config {
	return Config{
		Address:   cfg.ValkeyAddress,
		Password:  cfg.ValkeyPassword,
		DB:        cfg.ValkeyDB,
		KeyPrefix: cfg.ValkeyKeyPrefix,
	}
}

// Client wraps the valkey-go client with key prefixing and the few
// primitives the channel subsystem needs (set-if-absent, pub/sub).
type Client struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewClient connects and pings. The caller owns Close().
func NewClient(cfg Config) (*Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	return &Client{inner: inner, keyPrefix: normalizePrefix(cfg.KeyPrefix)}, nil
}

func normalizePrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func (c *Client) Inner() valkeylib.Client {
	return c.inner
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key constructs a prefixed key from the given parts.
// Example: Key("dedup", "inst1", "evt9") -> "channels:dedup:inst1:evt9"
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.keyPrefix, ":")
	}
	return c.keyPrefix + strings.Join(parts, ":")
}

// SetNX stores key with a TTL only if it does not exist yet. It reports
// whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cmd := c.inner.B().Set().Key(key).Value("1").Nx().Ex(ttl).Build()
	if err := c.inner.Do(ctx, cmd).Error(); err != nil {
		if IsNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Del removes keys; missing keys are not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Do(ctx, c.inner.B().Del().Key(keys...).Build()).Error()
}

// Publish sends payload on a prefixed channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	cmd := c.inner.B().Publish().Channel(c.Key(channel)).Message(payload).Build()
	return c.inner.Do(ctx, cmd).Error()
}

// Subscribe blocks delivering messages from a prefixed channel until ctx ends.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	cmd := c.inner.B().Subscribe().Channel(c.Key(channel)).Build()
	return c.inner.Receive(ctx, cmd, func(msg valkeylib.PubSubMessage) {
		fn(msg.Message)
	})
}

// Ping tests the connection to Valkey with a context for timeout control.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// IsConnected tests if the connection is healthy (uses a short timeout).
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return c.Ping(ctx) == nil
}

// IsNil checks if an error returned by the client represents a Valkey NIL response.
func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}
