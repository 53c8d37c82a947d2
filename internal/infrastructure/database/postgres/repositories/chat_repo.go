package repositories

import (
	"context"
	"database/sql"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

type postgresChatRepo struct {
	baseRepo
}

// NewChatRepository returns the PostgreSQL client-to-chat link store.
func NewChatRepository(conn *postgres.Connection, log logging.Logger) deal.ChatRepository {
	return &postgresChatRepo{baseRepo: newBaseRepo(conn, log, "chat_repo")}
}

func (r *postgresChatRepo) LinkChat(ctx context.Context, clientID, chatID int64) error {
	query := `
		INSERT INTO client_chats (client_id, chat_id, linked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET chat_id = EXCLUDED.chat_id, linked_at = NOW()
	`
	if _, err := r.executor().ExecContext(ctx, query, clientID, chatID); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to link chat")
	}
	r.log.Info("Linked chat", logging.Int64("client_id", clientID))
	return nil
}

func (r *postgresChatRepo) ChatFor(ctx context.Context, clientID int64) (int64, error) {
	var chatID int64
	err := r.executor().QueryRowContext(ctx, `SELECT chat_id FROM client_chats WHERE client_id = $1`, clientID).Scan(&chatID)
	if err == sql.ErrNoRows {
		return 0, errors.New(errors.ErrCodeChatNotLinked, "client has no linked chat").WithDetail("client_id=" + itoa(clientID))
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to look up chat")
	}
	return chatID, nil
}
