package funnel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rufuslabs/wappgate/internal/db"
)

// PgConversationStore is the PostgreSQL-backed ConversationStore.
type PgConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore creates a conversation store over the given pool.
func NewConversationStore(pool *pgxpool.Pool) *PgConversationStore {
	return &PgConversationStore{pool: pool}
}

// GetOrCreate upserts the conversation row for identity. The no-op
// conflict update lets RETURNING yield the existing row.
func (s *PgConversationStore) GetOrCreate(ctx context.Context, identity, rootNode string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (identity, current_node)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity
		RETURNING id, identity, current_node, context, last_interaction_at`,
		identity, rootNode)

	var (
		id      pgtype.UUID
		lastAt  pgtype.Timestamptz
		conv    Conversation
		rawCtx  map[string]string
	)
	if err := row.Scan(&id, &conv.Identity, &conv.CurrentNode, &rawCtx, &lastAt); err != nil {
		return Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	conv.ID = db.UUIDString(id)
	conv.Context = rawCtx
	conv.LastInteractionAt = db.TimeFromPg(lastAt)
	return conv, nil
}

// SetNode moves the cursor and refreshes last_interaction_at.
func (s *PgConversationStore) SetNode(ctx context.Context, identity, nodeID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET current_node = $2, last_interaction_at = now(), updated_at = now()
		WHERE identity = $1`,
		identity, nodeID)
	if err != nil {
		return fmt.Errorf("set conversation node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set conversation node: identity %s not found", identity)
	}
	return nil
}

// PgFlowLogger appends audit records to flow_logs. Best effort: failures
// are logged and swallowed so the conversation never stalls on auditing.
type PgFlowLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFlowLogger creates a flow logger over the given pool.
func NewFlowLogger(log *slog.Logger, pool *pgxpool.Pool) *PgFlowLogger {
	if log == nil {
		log = slog.Default()
	}
	return &PgFlowLogger{pool: pool, logger: log.With(slog.String("component", "flowlog"))}
}

// Append writes one audit record.
func (l *PgFlowLogger) Append(ctx context.Context, entry FlowEntry) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO flow_logs (identity, from_node, to_node, action, user_input)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Identity, entry.FromNode, entry.ToNode, string(entry.Action), entry.UserInput)
	if err != nil {
		l.logger.Error("flow log append failed",
			slog.String("identity", entry.Identity),
			slog.Any("error", err))
	}
}
