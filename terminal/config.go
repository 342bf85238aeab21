package terminal

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/go-orderbook/orderbook-go/internal/config"
	"github.com/go-orderbook/orderbook-go/logging"
	"github.com/go-orderbook/orderbook-go/marketdata"
	"github.com/go-orderbook/orderbook-go/marketdata/stream"
	"github.com/go-orderbook/orderbook-go/session"
	"github.com/go-orderbook/orderbook-go/trading"
)

// OptsFromConfig maps the environment configuration onto Opts. Handlers are
// left for the caller to set.
func OptsFromConfig(cfg *config.Config, logger logging.Logger) (Opts, error) {
	mode, err := stream.ParseMode(cfg.API.StreamMode)
	if err != nil {
		return Opts{}, err
	}
	opts := Opts{
		Trading: trading.ClientOpts{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
		},
		Book: marketdata.SynchronizerOpts{
			PollInterval: cfg.Book.PollInterval,
			Logger:       logger,
		},
		Depth: cfg.Book.Depth,
		Stream: []stream.Option{
			stream.WithBaseURL(cfg.API.StreamURL),
			stream.WithMode(mode),
		},
		Logger: logger,
	}

	switch cfg.Session.Store {
	case "memory":
		opts.Store = &session.MemoryStore{}
	case "file":
		fs, err := session.NewFileStore(cfg.Session.Path)
		if err != nil {
			return Opts{}, err
		}
		opts.Store = fs
	case "redis":
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.Store = session.NewRedisStore(rc, session.RedisStoreOpts{
			Key: cfg.Redis.Prefix + "session",
			TTL: cfg.Redis.TTL,
		})
		opts.closers = append(opts.closers, rc)
	default:
		return Opts{}, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	return opts, nil
}
