package contexts

import (
	"context"
	"database/sql"
	"time"

	"github.com/jingkaihe/playbook/pkg/db"
	"github.com/jingkaihe/playbook/pkg/db/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SQLiteStore persists contexts in the shared playbook database.
type SQLiteStore struct {
	db *sqlx.DB
}

type contextRow struct {
	Name        string `db:"name"`
	TokenBudget int    `db:"token_budget"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

type messageRow struct {
	ID          string `db:"id"`
	ContextName string `db:"context_name"`
	Position    int    `db:"position"`
	Role        string `db:"role"`
	Content     string `db:"content"`
	CreatedAt   string `db:"created_at"`
}

type summaryRow struct {
	contextRow
	MessageCount int `db:"message_count"`
}

// NewSQLiteStore opens the database at path and migrates it.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := db.OpenMigrated(ctx, path, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open context database")
	}
	return &SQLiteStore{db: conn}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) Save(ctx context.Context, c *Context) error {
	if err := ValidateKey(c.Name); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM context_messages WHERE context_name = ?", c.Name); err != nil {
		return errors.Wrap(err, "failed to clear stored messages")
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO contexts (name, token_budget, created_at, updated_at)
		VALUES (:name, :token_budget, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			token_budget = excluded.token_budget,
			updated_at = excluded.updated_at
	`, contextRow{
		Name:        c.Name,
		TokenBudget: c.TokenBudget,
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(time.Now()),
	})
	if err != nil {
		return errors.Wrap(err, "failed to save context")
	}

	for i, msg := range c.Messages {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO context_messages (id, context_name, position, role, content, created_at)
			VALUES (:id, :context_name, :position, :role, :content, :created_at)
		`, messageRow{
			ID:          msg.ID,
			ContextName: c.Name,
			Position:    i,
			Role:        string(msg.Role),
			Content:     msg.Content,
			CreatedAt:   formatTime(msg.Timestamp),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to save message %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit context")
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*Context, error) {
	var row contextRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM contexts WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotStored, "context %q", name)
		}
		return nil, errors.Wrap(err, "failed to load context")
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM context_messages WHERE context_name = ? ORDER BY position", name); err != nil {
		return nil, errors.Wrap(err, "failed to load context messages")
	}

	c := &Context{
		Name:        row.Name,
		TokenBudget: row.TokenBudget,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
		Messages:    make([]Message, 0, len(rows)),
	}
	for _, r := range rows {
		c.Messages = append(c.Messages, Message{
			ID:        r.ID,
			Role:      Role(r.Role),
			Content:   r.Content,
			Timestamp: parseTime(r.CreatedAt),
		})
	}
	return c, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM contexts WHERE name = ?", name)
	if err != nil {
		return errors.Wrap(err, "failed to delete context")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotStored, "context %q", name)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.name, c.token_budget, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM context_messages m WHERE m.context_name = c.name) AS message_count
		FROM contexts c
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contexts")
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{
			Name:         r.Name,
			MessageCount: r.MessageCount,
			TokenBudget:  r.TokenBudget,
			UpdatedAt:    parseTime(r.UpdatedAt),
		})
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenStore builds the configured store kind: sqlite or json.
func OpenStore(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case "", "sqlite":
		if path == "" {
			p, err := db.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewSQLiteStore(ctx, path)
	case "json", "file":
		if path == "" {
			return nil, errors.New("json context store requires contexts.path")
		}
		return NewFileStore(path)
	default:
		return nil, errors.Errorf("unknown context store %q", kind)
	}
}
