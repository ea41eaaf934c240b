package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds the NATS connection and bucket settings
type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
	// History is the number of revisions kept per key
	History uint8
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "active_timers",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		History:       1,
	}
}

// Connect dials NATS, creates or updates the timer bucket and returns a
// store bound to it. Close releases the connection.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	natsOpts := []nats.Option{
		nats.Name("timerd"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Current timer per user",
		History:     cfg.History,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create key-value bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("bucket", cfg.Bucket).
		Msg("timer bucket ready")

	s := New(kv, opts...)
	s.closer = nc.Drain
	return s, nil
}
