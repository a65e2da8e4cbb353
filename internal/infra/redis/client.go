package redis

import (
	"thumbnail-service/internal/config"

	"github.com/go-redis/redis/v8"
)

// Clients holds the two broker connections. Producer serves enqueue and
// fire-and-forget publishes; Blocking serves XREADGROUP claims and the
// lifecycle subscription so they never stall the producer pool.
type Clients struct {
	Producer *redis.Client
	Blocking *redis.Client
}

// NewClients builds both clients without dialing; readiness is established
// by Queue.Init.
func NewClients(cfg *config.RedisConfig, workers int) *Clients {
	if workers < 1 {
		workers = 1
	}
	newClient := func(poolSize int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:       cfg.Addr,
			Password:   cfg.Password,
			DB:         cfg.DB,
			PoolSize:   poolSize,
			MaxRetries: 1,
		})
	}
	return &Clients{
		Producer: newClient(10),
		// one connection per claiming worker plus the subscription
		Blocking: newClient(workers + 2),
	}
}

func (c *Clients) Close() error {
	err := c.Producer.Close()
	if berr := c.Blocking.Close(); err == nil {
		err = berr
	}
	return err
}
