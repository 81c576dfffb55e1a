package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Records are stored as hashes: v=value ver=version c/u/e=created/updated/expires
// (unix nanoseconds, 0 for no expiry). No native key expiry is set so expired
// records stay visible until the retention sweep removes them. Versions come
// from INCR on <prefix>:seq (KEYS[2]) so they never repeat for a key.
const (
	fieldValue   = "v"
	fieldVersion = "ver"
	fieldCreated = "c"
	fieldUpdated = "u"
	fieldExpires = "e"
)

var putScript = redis.NewScript(`
local c = redis.call('HGET', KEYS[1], 'c')
if not c then c = ARGV[2] end
local ver = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver, 'c', c, 'u', ARGV[2], 'e', ARGV[3])
return {ver, c}
`)

var putIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local ver = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver, 'c', ARGV[2], 'u', ARGV[2], 'e', ARGV[3])
return ver
`)

var compareAndSwapScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if (not cur) or tonumber(cur) ~= tonumber(ARGV[1]) then return {-1, ''} end
local ver = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'ver', ver, 'u', ARGV[3], 'e', ARGV[4])
return {ver, redis.call('HGET', KEYS[1], 'c')}
`)

var compareAndDeleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if (not cur) or tonumber(cur) ~= tonumber(ARGV[1]) then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// Redis keeps each class under its own key prefix: <prefix>:<class>:<key>.
type Redis struct {
	client *redis.Client
	prefix string
	opts   options
}

// OpenRedis parses url, connects, and verifies the server with PING.
func OpenRedis(ctx context.Context, url, prefix string, opts ...Option) (*Redis, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedis(client, prefix, opts...), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, opts ...Option) *Redis {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "decklens"
	}
	return &Redis{client: client, prefix: prefix, opts: buildOptions(opts)}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Bucket(class Class) Bucket {
	return &redisBucket{store: r, namespace: r.prefix + ":" + string(class) + ":"}
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

type redisBucket struct {
	store     *Redis
	namespace string
}

func (b *redisBucket) fullKey(key string) string { return b.namespace + key }

// writeKeys returns the record key and the shared sequence key.
func (b *redisBucket) writeKeys(key string) []string {
	return []string{b.fullKey(key), b.store.prefix + ":seq"}
}

func nanosArg(t time.Time) string { return strconv.FormatInt(toNanos(t), 10) }

func parseNanos(raw string) time.Time {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return fromNanos(v)
}

func recordFromHash(key string, fields map[string]string) (Record, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("decode version for %s: %w", key, err)
	}
	return Record{
		Key:       key,
		Value:     []byte(fields[fieldValue]),
		Version:   version,
		CreatedAt: parseNanos(fields[fieldCreated]),
		UpdatedAt: parseNanos(fields[fieldUpdated]),
		ExpiresAt: parseNanos(fields[fieldExpires]),
	}, nil
}

// scriptPair decodes the {version, created} array returned by the write scripts.
func scriptPair(result any) (int64, string, error) {
	items, ok := result.([]any)
	if !ok || len(items) != 2 {
		return 0, "", fmt.Errorf("unexpected script result %T", result)
	}
	version, ok := items[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("unexpected version type %T", items[0])
	}
	created, _ := items[1].(string)
	return version, created, nil
}

func (b *redisBucket) Get(ctx context.Context, key string) (Record, error) {
	ctx = ensureContext(ctx)
	fields, err := b.store.client.HGetAll(ctx, b.fullKey(key)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("get %s%s: %w", b.namespace, key, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return recordFromHash(key, fields)
}

func (b *redisBucket) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	res, err := putScript.Run(ctx, b.store.client, b.writeKeys(key), value, nanosArg(now), nanosArg(expires)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("put %s%s: %w", b.namespace, key, err)
	}
	version, created, err := scriptPair(res)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: append([]byte(nil), value...), Version: version, CreatedAt: parseNanos(created), UpdatedAt: now, ExpiresAt: expires}, nil
}

func (b *redisBucket) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, bool, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	version, err := putIfAbsentScript.Run(ctx, b.store.client, b.writeKeys(key), value, nanosArg(now), nanosArg(expires)).Int64()
	if err != nil {
		return Record{}, false, fmt.Errorf("put-if-absent %s%s: %w", b.namespace, key, err)
	}
	if version > 0 {
		return Record{Key: key, Value: append([]byte(nil), value...), Version: version, CreatedAt: now, UpdatedAt: now, ExpiresAt: expires}, true, nil
	}
	existing, err := b.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return b.PutIfAbsent(ctx, key, value, ttl)
	}
	return existing, false, err
}

func (b *redisBucket) CompareAndSwap(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (Record, error) {
	ctx = ensureContext(ctx)
	now := b.store.opts.now().UTC()
	expires := expiry(now, ttl)
	res, err := compareAndSwapScript.Run(ctx, b.store.client, b.writeKeys(key),
		version, value, nanosArg(now), nanosArg(expires)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("compare-and-swap %s%s: %w", b.namespace, key, err)
	}
	next, created, err := scriptPair(res)
	if err != nil {
		return Record{}, err
	}
	if next < 0 {
		return Record{}, ErrVersionMismatch
	}
	return Record{Key: key, Value: append([]byte(nil), value...), Version: next, CreatedAt: parseNanos(created), UpdatedAt: now, ExpiresAt: expires}, nil
}

func (b *redisBucket) CompareAndDelete(ctx context.Context, key string, version int64) (bool, error) {
	ctx = ensureContext(ctx)
	deleted, err := compareAndDeleteScript.Run(ctx, b.store.client, []string{b.fullKey(key)}, version).Int64()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s%s: %w", b.namespace, key, err)
	}
	return deleted == 1, nil
}

func (b *redisBucket) Delete(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	if err := b.store.client.Del(ctx, b.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s%s: %w", b.namespace, key, err)
	}
	return nil
}

// Scan iterates with SCAN so the server never blocks on the whole keyspace.
// SCAN may repeat keys; callers must tolerate seeing a record twice.
func (b *redisBucket) Scan(ctx context.Context, opts ScanOptions, fn func(Record) error) error {
	ctx = ensureContext(ctx)
	match := escapeGlob(b.namespace+opts.Prefix) + "*"
	count := int64(pageSize(opts))
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys, next, err := b.store.client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", b.namespace, err)
		}
		if err := b.emitPage(ctx, keys, fn); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *redisBucket) emitPage(ctx context.Context, keys []string, fn func(Record) error) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := b.store.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("scan %s: fetch page: %w", b.namespace, err)
	}
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(strings.TrimPrefix(keys[i], b.namespace), fields)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
