package adapters

import (
	"context"
	"database/sql"
	"fmt"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// LibSQLTurnStore implements TurnStore over the embedded libsql database.
type LibSQLTurnStore struct {
	db *sql.DB
}

// NewLibSQLTurnStore creates a turn store. The schema is managed by the
// db package's migrations.
func NewLibSQLTurnStore(db *sql.DB) *LibSQLTurnStore {
	return &LibSQLTurnStore{db: db}
}

// SaveTurn appends one turn to a conversation.
func (s *LibSQLTurnStore) SaveTurn(ctx context.Context, conversationID string, turn ports.Turn) error {
	query := `
		INSERT INTO conversation_turns (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, turn.Role, turn.Content, turn.CreatedAt); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// LoadRecent loads the last k turns of a conversation, oldest first.
func (s *LibSQLTurnStore) LoadRecent(ctx context.Context, conversationID string, k int) ([]ports.Turn, error) {
	query := `
		SELECT role, content, created_at FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, k)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var t ports.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Ensure LibSQLTurnStore implements the TurnStore interface.
var _ ports.TurnStore = (*LibSQLTurnStore)(nil)
