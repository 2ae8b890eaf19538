package mailbox

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mailtriage/internal/model"
)

// SQLiteMailbox implements Mailbox using modernc.org/sqlite.
type SQLiteMailbox struct {
	db *sql.DB
}

// NewSQLite opens a SQLite mailbox at the given path.
func NewSQLite(dsn string) (*SQLiteMailbox, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "mailbox: exec %s", pragma)
		}
	}
	return &SQLiteMailbox{db: db}, nil
}

const sqliteMailboxMigration = `
CREATE TABLE IF NOT EXISTS emails (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL,
	seq         INTEGER
);

CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
`

func (m *SQLiteMailbox) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, sqliteMailboxMigration)
	return eris.Wrap(err, "mailbox: migrate sqlite")
}

func (m *SQLiteMailbox) Close() error {
	return m.db.Close()
}

func (m *SQLiteMailbox) GetAllEmails(ctx context.Context) ([]model.EmailRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, subject, sender, body, received_at FROM emails ORDER BY seq, rowid`)
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

func (m *SQLiteMailbox) InsertEmails(ctx context.Context, emails []model.EmailRecord) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "mailbox: begin tx")
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM emails`).Scan(&seq); err != nil {
		return 0, eris.Wrap(err, "mailbox: read max seq")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO emails (id, subject, sender, body, received_at, seq) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "mailbox: prepare insert")
	}
	defer stmt.Close()

	inserted := 0
	for i := range emails {
		seq++
		res, err := stmt.ExecContext(ctx,
			emails[i].ID, emails[i].Subject, emails[i].Sender, emails[i].Body, emails[i].ReceivedAt, seq)
		if err != nil {
			return 0, eris.Wrapf(err, "mailbox: insert email %s", emails[i].ID)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "mailbox: commit")
	}
	return inserted, nil
}

func (m *SQLiteMailbox) Count(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n)
	return n, eris.Wrap(err, "mailbox: count emails")
}
