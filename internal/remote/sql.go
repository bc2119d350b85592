package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"offline-sync-service/internal/database"
)

const documentsSchema = `CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(128) NOT NULL,
	id         VARCHAR(128) NOT NULL,
	body       JSON         NOT NULL,
	updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
)`

// SQLClient stores documents in a MySQL table keyed by collection and id,
// addressed with paths of the form /<collection> or /<collection>/<id>.
type SQLClient struct {
	db *database.Database
}

func NewSQLClient(db *database.Database) *SQLClient {
	return &SQLClient{db: db}
}

// EnsureSchema creates the documents table when it does not exist.
func (c *SQLClient) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.DB.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

// ParseDocumentPath splits /<collection>[/<id>] into its parts.
func ParseDocumentPath(path string) (collection, id string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid document path %q", path)
}

// Create inserts a new document. A collection-only path gets a generated id.
func (c *SQLClient) Create(ctx context.Context, path string, payload any) error {
	collection, id, err := ParseDocumentPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	body, err := encodeBody(payload)
	if err != nil {
		return err
	}
	return c.db.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
			collection, id, body)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		return nil
	})
}

// Replace overwrites the whole document, creating it if absent.
func (c *SQLClient) Replace(ctx context.Context, path string, payload any) error {
	collection, id, err := ParseDocumentPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("replace %s: document id required", path)
	}
	body, err := encodeBody(payload)
	if err != nil {
		return err
	}
	_, err = c.db.DB.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE body = VALUES(body)`,
		collection, id, body)
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (c *SQLClient) Delete(ctx context.Context, path string) error {
	collection, id, err := ParseDocumentPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("delete %s: document id required", path)
	}
	res, err := c.db.DB.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s: document not found", path)
	}
	return nil
}

func (c *SQLClient) Ping(ctx context.Context) error {
	return c.db.DB.PingContext(ctx)
}

func encodeBody(payload any) (string, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return string(raw), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}
