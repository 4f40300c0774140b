package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datadock/datadock/pkg/log"
)

// MetadataFile is the name of the JSON sidecar inside the cache root.
const MetadataFile = "metadata.json"

// Record tracks one cached file. A record exists if and only if the
// corresponding file is on disk; both sides are updated together on
// every mutation.
type Record struct {
	Filename        string     `json:"filename"`
	DownloadedAt    time.Time  `json:"downloaded_at"`
	LastChecked     time.Time  `json:"last_checked"`
	RemoteVersionID string     `json:"remote_version_id,omitempty"`
	CommitDate      *time.Time `json:"commit_date,omitempty"`
	RepoID          string     `json:"repo_id"`
	Branch          string     `json:"branch"`
	SizeBytes       int64      `json:"size_bytes"`
}

// MetadataBackend persists the filename -> Record map. The whole map
// is rewritten on every save; last writer wins.
type MetadataBackend interface {
	Load(ctx context.Context) (map[string]*Record, error)
	Save(ctx context.Context, records map[string]*Record) error
	Name() string
}

// FileBackend stores metadata as one JSON file with an atomic
// write-then-rename. An unparseable file is treated as an empty cache,
// never as a startup failure.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to dir/metadata.json.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, MetadataFile)}
}

// Load reads the metadata sidecar.
func (b *FileBackend) Load(ctx context.Context) (map[string]*Record, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return map[string]*Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	records := map[string]*Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn("unparseable cache metadata %s, starting empty: %v", b.path, err)
		return map[string]*Record{}, nil
	}
	return records, nil
}

// Save rewrites the metadata sidecar atomically.
func (b *FileBackend) Save(ctx context.Context, records map[string]*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// Name identifies the backend in logs.
func (b *FileBackend) Name() string { return "file" }

// RedisConfig configures the Redis metadata backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Key is the hash key holding all records
	Key string

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Key:     "datadock:cache:metadata",
		Timeout: 5 * time.Second,
	}
}

// RedisBackend mirrors the metadata map into a Redis hash, one field
// per filename. Useful when several replicas share one cache volume.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

// Load reads every record from the hash.
func (b *RedisBackend) Load(ctx context.Context) (map[string]*Record, error) {
	fields, err := b.client.HGetAll(ctx, b.cfg.Key).Result()
	if err != nil {
		return nil, err
	}

	records := make(map[string]*Record, len(fields))
	for filename, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn("unparseable metadata for %s, dropping: %v", filename, err)
			continue
		}
		records[filename] = &rec
	}
	return records, nil
}

// Save replaces the hash with the given records in one pipeline.
func (b *RedisBackend) Save(ctx context.Context, records map[string]*Record) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.cfg.Key)
	for filename, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, b.cfg.Key, filename, raw)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Name identifies the backend in logs.
func (b *RedisBackend) Name() string { return "redis" }

// Close releases the Redis connection.
func (b *RedisBackend) Close() error { return b.client.Close() }
