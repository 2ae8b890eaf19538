package mailbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/db"
	"github.com/sells-group/mailtriage/internal/model"
)

// PostgresMailbox implements Mailbox using pgxpool.
type PostgresMailbox struct {
	pool db.Pool
}

// NewPostgres creates a PostgresMailbox with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresMailbox, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: parse postgres config")
	}
	pgxCfg.MaxConns = 5
	pgxCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "mailbox: ping")
	}
	return &PostgresMailbox{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresMailbox {
	return &PostgresMailbox{pool: pool}
}

const postgresMailboxMigration = `
CREATE TABLE IF NOT EXISTS emails (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	seq         BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
`

func (m *PostgresMailbox) Migrate(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, postgresMailboxMigration)
	return eris.Wrap(err, "mailbox: migrate postgres")
}

func (m *PostgresMailbox) Close() error {
	m.pool.Close()
	return nil
}

func (m *PostgresMailbox) GetAllEmails(ctx context.Context) ([]model.EmailRecord, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT id, subject, sender, body, received_at FROM emails ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: query emails")
	}
	defer rows.Close()

	var out []model.EmailRecord
	for rows.Next() {
		var e model.EmailRecord
		if err := rows.Scan(&e.ID, &e.Subject, &e.Sender, &e.Body, &e.ReceivedAt); err != nil {
			return nil, eris.Wrap(err, "mailbox: scan email")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "mailbox: query emails")
}

func (m *PostgresMailbox) InsertEmails(ctx context.Context, emails []model.EmailRecord) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(emails))
	for i := range emails {
		rows[i] = []any{emails[i].ID, emails[i].Subject, emails[i].Sender, emails[i].Body, emails[i].ReceivedAt}
	}

	n, err := db.BulkInsertIgnore(ctx, m.pool, db.InsertConfig{
		Table:        "emails",
		Columns:      []string{"id", "subject", "sender", "body", "received_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "mailbox: bulk insert emails")
	}
	return int(n), nil
}

func (m *PostgresMailbox) Count(ctx context.Context) (int, error) {
	var n int
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n)
	return n, eris.Wrap(err, "mailbox: count emails")
}
