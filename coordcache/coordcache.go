// Coordination cache: a shared Redis layer where multiple monitor
// processes exchange latest metrics and chain heads. Values are sealed
// with an AEAD before they leave the process, so a tampered or foreign
// cache entry fails authentication instead of poisoning a reader. The
// cache is never authoritative; every read path tolerates a miss.
package coordcache

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nockbridge/bridge-go/store"
)

var (
	// ErrIntegrity: the stored value failed AEAD authentication.
	ErrIntegrity = errors.New("coordination cache value failed authentication")
	ErrBadKey    = errors.New("coordination cache key must be 32 bytes")
)

const (
	defaultTTL       = 2 * time.Minute
	defaultDialWait  = 5 * time.Second
	keyMetricsBridge = "nockbridge:metrics:bridge"
)

func keyMetricsChain(chain string) string {
	return "nockbridge:metrics:chain:" + chain
}

func keyChainHead(chain string) string {
	return "nockbridge:head:" + chain
}

type Config struct {
	URL      string
	Password string
	// Key is the 32-byte AEAD key shared by every process on the cache.
	Key []byte
	TTL time.Duration
}

type Cache struct {
	rdb  *redis.Client
	aead *sealer
	ttl  time.Duration
}

func New(cfg *Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	aead, err := newSealer(cfg.Key)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialWait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{rdb: rdb, aead: aead, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishBridgeMetrics shares the latest bridge sample with peer
// processes.
func (c *Cache) PublishBridgeMetrics(ctx context.Context, sample *store.BridgeMetrics) error {
	return c.put(ctx, keyMetricsBridge, sample)
}

// FetchBridgeMetrics returns the latest shared bridge sample, ok=false on
// a cache miss.
func (c *Cache) FetchBridgeMetrics(ctx context.Context) (*store.BridgeMetrics, bool, error) {
	var sample store.BridgeMetrics
	ok, err := c.get(ctx, keyMetricsBridge, &sample)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sample, true, nil
}

func (c *Cache) PublishChainMetrics(ctx context.Context, sample *store.ChainMetrics) error {
	return c.put(ctx, keyMetricsChain(sample.Chain), sample)
}

func (c *Cache) FetchChainMetrics(ctx context.Context, chain string) (*store.ChainMetrics, bool, error) {
	var sample store.ChainMetrics
	ok, err := c.get(ctx, keyMetricsChain(chain), &sample)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sample, true, nil
}

// PublishChainHead shares a chain's latest accepted state so a restarting
// peer can warm its view before its first poll completes.
func (c *Cache) PublishChainHead(ctx context.Context, cs *store.ChainState) error {
	return c.put(ctx, keyChainHead(cs.Chain), cs)
}

func (c *Cache) FetchChainHead(ctx context.Context, chain string) (*store.ChainState, bool, error) {
	var cs store.ChainState
	ok, err := c.get(ctx, keyChainHead(chain), &cs)
	if err != nil || !ok {
		return nil, false, err
	}
	return &cs, true, nil
}

func (c *Cache) put(ctx context.Context, key string, v interface{}) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sealed, err := c.aead.seal(plain)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, sealed, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, out interface{}) (bool, error) {
	sealed, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	plain, err := c.aead.open(sealed)
	if err != nil {
		// a failed tag means the entry is garbage; drop it so peers
		// stop tripping over it
		if delErr := c.rdb.Del(ctx, key).Err(); delErr != nil {
			logger.WithFields(logger.Fields{"key": key, "error": delErr}).Warn("failed to evict bad cache entry")
		}
		return false, err
	}
	return true, json.Unmarshal(plain, out)
}

// sealer wraps chacha20poly1305 with a random nonce prefixed to each
// sealed value.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrBadKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrIntegrity
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plain, nil
}
