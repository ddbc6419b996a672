//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
)

// Tables is seed data: table -> key -> fields.
type Tables map[string]map[string]map[string]string

// SeedRedis flushes database db and loads tables into it. Each entry
// becomes a hash at "TABLE<sep>key".
func SeedRedis(t *testing.T, addr string, db int, sep string, tables Tables) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}

	for table, entries := range tables {
		for key, fields := range entries {
			redisKey := table + sep + key
			if len(fields) == 0 {
				// An empty hash does not exist in Redis; SONiC uses a NULL field.
				fields = map[string]string{"NULL": "NULL"}
			}
			args := make([]interface{}, 0, len(fields)*2)
			for k, v := range fields {
				args = append(args, k, v)
			}
			if err := client.HSet(ctx, redisKey, args...).Err(); err != nil {
				t.Fatalf("seeding %s: %v", redisKey, err)
			}
		}
	}
	t.Cleanup(func() {
		c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		defer c.Close()
		c.FlushDB(context.Background())
	})
}

// ReadEntry reads a hash directly, bypassing the code under test.
func ReadEntry(t *testing.T, addr string, db int, redisKey string) map[string]string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	vals, err := client.HGetAll(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", redisKey, err)
	}
	return vals
}
