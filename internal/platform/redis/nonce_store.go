package redis

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var claimDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tokenbank_nonce_claim_duration_ms",
	Help:    "Latency of signed-request nonce claims in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const nonceKeyPrefix = "tokenbank:nonce:"

// NonceStore shares the replay guard between server instances. SET NX makes
// the first claim win atomically and EX lets Redis forget the nonce once its
// signature would be rejected as stale anyway.
type NonceStore struct {
	client *redis.Client
}

func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

func (s *NonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		claimDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	return s.client.SetNX(ctx, nonceKeyPrefix+nonce, "1", ttl).Result()
}
