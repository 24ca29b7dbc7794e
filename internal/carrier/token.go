package carrier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoginFunc performs a carrier's login/token exchange
type LoginFunc func(ctx context.Context) (string, error)

// TokenSource hands out carrier session tokens. Implementations cache; callers
// that receive a 401 from a carrier must Invalidate and retry once, the cache
// never sees response codes itself.
type TokenSource interface {
	Token(ctx context.Context, carrier string) (string, error)
	Invalidate(carrier string)
}

// TokenCache is the in-memory TokenSource. Tokens live until a fixed TTL or an
// explicit invalidation; they are not persisted and are cheap to regenerate
// after a restart.
//
// A refresh in flight is shared: concurrent callers for the same carrier wait
// on the same pending login instead of each hitting the carrier's auth
// endpoint.
type TokenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	logins  map[string]LoginFunc
	entries map[string]tokenEntry
	pending map[string]*loginCall
	logger  *zap.Logger
}

type tokenEntry struct {
	value     string
	expiresAt time.Time
}

type loginCall struct {
	done  chan struct{}
	value string
	err   error
}

// NewTokenCache creates a token cache with the given TTL
func NewTokenCache(ttl time.Duration, logger *zap.Logger) *TokenCache {
	return &TokenCache{
		ttl:     ttl,
		now:     time.Now,
		logins:  make(map[string]LoginFunc),
		entries: make(map[string]tokenEntry),
		pending: make(map[string]*loginCall),
		logger:  logger,
	}
}

// Register installs the login exchange for a carrier
func (c *TokenCache) Register(carrier string, login LoginFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins[carrier] = login
}

// SetClock overrides the cache's clock. Tests only.
func (c *TokenCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Token returns the cached token for carrier, performing the login exchange
// when no valid token exists
func (c *TokenCache) Token(ctx context.Context, carrier string) (string, error) {
	c.mu.Lock()

	if e, ok := c.entries[carrier]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}

	if call, ok := c.pending[carrier]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	login, ok := c.logins[carrier]
	if !ok {
		c.mu.Unlock()
		return "", &unknownCarrierError{carrier: carrier}
	}

	call := &loginCall{done: make(chan struct{})}
	c.pending[carrier] = call
	c.mu.Unlock()

	value, err := login(ctx)

	c.mu.Lock()
	delete(c.pending, carrier)
	if err == nil {
		c.entries[carrier] = tokenEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()

	call.value = value
	call.err = err
	close(call.done)

	if err != nil {
		c.logger.Error("carrier login failed", zap.String("carrier", carrier), zap.Error(err))
		return "", err
	}
	return value, nil
}

// Invalidate evicts the cached token for carrier. The next Token call logs in
// again.
func (c *TokenCache) Invalidate(carrier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, carrier)
	c.logger.Info("carrier token invalidated", zap.String("carrier", carrier))
}

type unknownCarrierError struct {
	carrier string
}

func (e *unknownCarrierError) Error() string {
	return "no login registered for carrier " + e.carrier
}
