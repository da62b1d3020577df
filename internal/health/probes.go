package health

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
)

func PostgresProbe(db *sql.DB) Probe {
	return db.PingContext
}

func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// Pinger is satisfied by the payment API client.
type Pinger interface {
	Ping(ctx context.Context) error
}

func APIProbe(api Pinger) Probe {
	return api.Ping
}
