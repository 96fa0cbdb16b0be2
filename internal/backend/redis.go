package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores each collection as one hash and broadcasts change
// notifications over pub/sub, one channel per collection. Every committed
// write publishes after the hash mutation, so subscribers (including the
// writer's own process) re-list and converge.
type Redis struct {
	client *redis.Client
	prefix string
	cancel context.CancelFunc
	ctx    context.Context
}

// NewRedis connects using a redis URL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", classifyRedis(err))
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing client. Used by tests with miniredis.
func NewRedisWithClient(client *redis.Client) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: client,
		prefix: "telar:",
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Redis) key(collection string) string {
	return r.prefix + collection
}

func (r *Redis) channel(collection string) string {
	return r.prefix + "changes:" + collection
}

func (r *Redis) Put(ctx context.Context, collection, id string, doc []byte) error {
	if err := r.client.HSet(ctx, r.key(collection), id, doc).Err(); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, classifyRedis(err))
	}
	r.publish(ctx, collection, id)
	return nil
}

func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	if err := r.client.HDel(ctx, r.key(collection), id).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, classifyRedis(err))
	}
	r.publish(ctx, collection, id)
	return nil
}

// publish is best-effort: a lost notification only delays convergence until
// the next committed write or reconnect re-list.
func (r *Redis) publish(ctx context.Context, collection, id string) {
	if err := r.client.Publish(ctx, r.channel(collection), id).Err(); err != nil {
		log.Printf("backend: redis publish %s: %v", collection, err)
	}
}

func (r *Redis) List(ctx context.Context, collection string) ([]Document, error) {
	entries, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, classifyRedis(err))
	}
	docs := make([]Document, 0, len(entries))
	for id, data := range entries {
		docs = append(docs, Document{ID: id, Data: []byte(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (r *Redis) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := r.client.HGet(ctx, r.key(collection), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, classifyRedis(err))
	}
	return []byte(data), nil
}

func (r *Redis) Subscribe(collection string, onDocs func(docs []Document), onError func(err error)) Unsubscribe {
	ctx, cancel := context.WithCancel(r.ctx)

	go func() {
		degraded := false
		report := func(err error) {
			if onError == nil {
				return
			}
			if err != nil {
				degraded = true
				onError(err)
				return
			}
			if degraded {
				degraded = false
				onError(nil)
			}
		}

		backoff := time.Second
		for ctx.Err() == nil {
			ps := r.client.Subscribe(ctx, r.channel(collection))

			docs, err := r.List(ctx, collection)
			if err != nil {
				ps.Close()
				report(err)
				if !sleep(ctx, backoff) {
					return
				}
				continue
			}
			report(nil)
			onDocs(docs)

			for {
				_, err := ps.ReceiveMessage(ctx)
				if ctx.Err() != nil {
					ps.Close()
					return
				}
				if err != nil {
					ps.Close()
					report(fmt.Errorf("subscribe %s: %w", collection, classifyRedis(err)))
					break
				}
				docs, err := r.List(ctx, collection)
				if err != nil {
					report(err)
					continue
				}
				report(nil)
				onDocs(docs)
			}

			if !sleep(ctx, backoff) {
				return
			}
		}
	}()

	return func() { cancel() }
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", classifyRedis(err))
	}
	return nil
}

func (r *Redis) Close() error {
	r.cancel()
	return r.client.Close()
}

// classifyRedis folds driver errors into the backend taxonomy. NOAUTH and
// NOPERM are the only rejections redis reports that retrying cannot fix.
func classifyRedis(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "NOPERM") || strings.Contains(msg, "WRONGPASS") {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
