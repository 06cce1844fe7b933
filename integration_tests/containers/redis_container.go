package containers

import (
	"context"
	"fmt"
	"log"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupRedisContainer starts a Redis testcontainer and returns the container
// and a redis:// connection URL.
func SetupRedisContainer(ctx context.Context) (*tcredis.RedisContainer, string, error) {
	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, "", fmt.Errorf("failed to start redis container: %w", err)
	}

	redisURL, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		if terminateErr := redisContainer.Terminate(ctx); terminateErr != nil {
			log.Printf("Failed to terminate redis container after getting connection string failed: %v", terminateErr)
		}
		return nil, "", fmt.Errorf("failed to get redis connection string: %w", err)
	}

	log.Printf("Redis container started and ready. URL: %s", redisURL)
	return redisContainer, redisURL, nil
}
