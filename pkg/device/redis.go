package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// SONiC Redis database numbers.
const (
	ApplDB     = 0
	CountersDB = 2
	ConfigDB   = 4
	StateDB    = 6
)

// Store is read/write access to one SONiC Redis database, addressed by
// table and key.
type Store interface {
	// GetEntry returns (nil, nil) if the entry does not exist.
	GetEntry(table, key string) (map[string]string, error)
	// TableKeys returns the keys of a table without the table prefix.
	TableKeys(table string) ([]string, error)
	SetEntry(table, key string, fields map[string]string) error
	DeleteEntry(table, key string) error
}

// DBClient wraps a Redis client for one SONiC database.
// CONFIG_DB and STATE_DB separate table and key with "|", APPL_DB and
// COUNTERS_DB with ":".
type DBClient struct {
	client *redis.Client
	ctx    context.Context
	db     int
	sep    string
}

// NewDBClient creates a client for database db at addr.
func NewDBClient(addr string, db int) *DBClient {
	sep := "|"
	if db == ApplDB || db == CountersDB {
		sep = ":"
	}
	return &DBClient{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		ctx: context.Background(),
		db:  db,
		sep: sep,
	}
}

// Connect tests the connection
func (c *DBClient) Connect() error {
	return c.client.Ping(c.ctx).Err()
}

// Close closes the connection
func (c *DBClient) Close() error {
	return c.client.Close()
}

func (c *DBClient) key(table, key string) string {
	return table + c.sep + key
}

// GetEntry reads a single entry as raw map[string]string.
// Returns (nil, nil) if the entry does not exist.
func (c *DBClient) GetEntry(table, key string) (map[string]string, error) {
	redisKey := c.key(table, key)
	vals, err := c.client.HGetAll(c.ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading DB %d %s: %w", c.db, redisKey, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

// TableKeys returns the entry keys of a table.
func (c *DBClient) TableKeys(table string) ([]string, error) {
	prefix := table + c.sep
	keys, err := scanKeys(c.ctx, c.client, prefix+"*", 100)
	if err != nil {
		return nil, fmt.Errorf("scanning DB %d %s: %w", c.db, table, err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// SetEntry writes fields into an entry.
func (c *DBClient) SetEntry(table, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.client.HSet(c.ctx, c.key(table, key), args...).Err()
}

// DeleteEntry removes an entry.
func (c *DBClient) DeleteEntry(table, key string) error {
	return c.client.Del(c.ctx, c.key(table, key)).Err()
}

// scanKeys collects keys matching pattern with cursor-based SCAN (non-blocking, unlike KEYS *).
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
