package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres keeps every document in one table keyed (collection, id) with a
// JSONB payload. Change notifications ride LISTEN/NOTIFY: each committed
// write notifies the telar_changes channel with the collection name, and
// each subscription holds a dedicated pgx connection that re-lists on every
// matching notification.
type Postgres struct {
	db          *sql.DB
	databaseURL string
	cancel      context.CancelFunc
	ctx         context.Context
}

const notifyChannel = "telar_changes"

// NewPostgres opens the pool, verifies connectivity and ensures the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", classifyPostgres(err))
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure documents table: %w", classifyPostgres(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Postgres{db: db, databaseURL: databaseURL, ctx: runCtx, cancel: cancel}, nil
}

func (p *Postgres) Put(ctx context.Context, collection, id string, doc []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=NOW()
	`, collection, id, doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, classifyPostgres(err))
	}
	p.notify(ctx, collection)
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, classifyPostgres(err))
	}
	p.notify(ctx, collection)
	return nil
}

// notify is best-effort, like the redis publish: a dropped notification is
// repaired by the next write or the subscriber's reconnect re-list.
func (p *Postgres) notify(ctx context.Context, collection string) {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
		log.Printf("backend: postgres notify %s: %v", collection, err)
	}
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, doc FROM documents WHERE collection=$1 ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, classifyPostgres(err))
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", classifyPostgres(err))
	}
	return docs, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT doc FROM documents WHERE collection=$1 AND id=$2
	`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, classifyPostgres(err))
	}
	return data, nil
}

func (p *Postgres) Subscribe(collection string, onDocs func(docs []Document), onError func(err error)) Unsubscribe {
	ctx, cancel := context.WithCancel(p.ctx)

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
			conn, err := pgx.Connect(ctx, p.databaseURL)
			if err != nil {
				report(fmt.Errorf("subscribe %s: %w", collection, classifyPostgres(err)))
				if !sleep(ctx, backoff) {
					return
				}
				continue
			}

			if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
				conn.Close(ctx)
				report(fmt.Errorf("subscribe %s: %w", collection, classifyPostgres(err)))
				if !sleep(ctx, backoff) {
					return
				}
				continue
			}

			docs, err := p.List(ctx, collection)
			if err != nil {
				conn.Close(ctx)
				report(err)
				if !sleep(ctx, backoff) {
					return
				}
				continue
			}
			report(nil)
			onDocs(docs)

			for {
				notification, err := conn.WaitForNotification(ctx)
				if ctx.Err() != nil {
					conn.Close(context.Background())
					return
				}
				if err != nil {
					conn.Close(context.Background())
					report(fmt.Errorf("subscribe %s: %w", collection, classifyPostgres(err)))
					break
				}
				if notification.Payload != collection {
					continue
				}
				docs, err := p.List(ctx, collection)
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

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", classifyPostgres(err))
	}
	return nil
}

func (p *Postgres) Close() error {
	p.cancel()
	return p.db.Close()
}

// classifyPostgres maps SQLSTATE classes 28 (invalid authorization) and
// 42501 (insufficient privilege) to the permission bucket; everything else
// is treated as transient.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		if code == "42501" || (len(code) >= 2 && code[:2] == "28") {
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
