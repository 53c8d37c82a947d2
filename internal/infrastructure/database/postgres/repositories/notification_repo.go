package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

type postgresNotificationStateRepo struct {
	baseRepo
}

// NewNotificationStateRepository returns the PostgreSQL notification state
// store.
func NewNotificationStateRepository(conn *postgres.Connection, log logging.Logger) deal.NotificationStateRepository {
	return &postgresNotificationStateRepo{baseRepo: newBaseRepo(conn, log, "notification_state_repo")}
}

func (r *postgresNotificationStateRepo) States(ctx context.Context, clientID int64) (map[string]deal.NotificationState, error) {
	query := `
		SELECT notification_id, deal_id, delivered, read, published_at, delivered_at, read_at
		FROM notification_states
		WHERE client_id = $1
	`
	rows, err := r.executor().QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query notification states")
	}
	defer rows.Close()

	out := make(map[string]deal.NotificationState)
	for rows.Next() {
		st := deal.NotificationState{ClientID: clientID}
		var published, delivered, read sql.NullTime
		if err := rows.Scan(&st.NotificationID, &st.DealID, &st.Delivered, &st.Read, &published, &delivered, &read); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan notification state")
		}
		st.PublishedAt, st.DeliveredAt, st.ReadAt = timePtr(published), timePtr(delivered), timePtr(read)
		out[st.NotificationID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate notification states")
	}
	return out, nil
}

func (r *postgresNotificationStateRepo) MarkDelivered(ctx context.Context, clientID int64, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	notifIDs, dealIDs, err := splitIDs(ids)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO notification_states (client_id, notification_id, deal_id, delivered, delivered_at)
		SELECT $1, t.id, t.deal_id, TRUE, $4
		FROM unnest($2::text[], $3::bigint[]) AS t(id, deal_id)
		ON CONFLICT (client_id, notification_id) DO UPDATE SET
			delivered = TRUE,
			delivered_at = COALESCE(notification_states.delivered_at, EXCLUDED.delivered_at)
	`
	if _, err := r.executor().ExecContext(ctx, query, clientID, pq.Array(notifIDs), pq.Array(dealIDs), at); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to mark notifications delivered")
	}
	return nil
}

func (r *postgresNotificationStateRepo) MarkRead(ctx context.Context, clientID int64, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	notifIDs, dealIDs, err := splitIDs(ids)
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO notification_states (client_id, notification_id, deal_id, delivered, read, delivered_at, read_at)
		SELECT $1, t.id, t.deal_id, TRUE, TRUE, $4, $4
		FROM unnest($2::text[], $3::bigint[]) AS t(id, deal_id)
		ON CONFLICT (client_id, notification_id) DO UPDATE SET
			read = TRUE,
			read_at = COALESCE(notification_states.read_at, EXCLUDED.read_at)
		WHERE notification_states.read = FALSE
	`
	res, err := r.executor().ExecContext(ctx, query, clientID, pq.Array(notifIDs), pq.Array(dealIDs), at)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to mark notifications read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read affected rows")
	}
	return n, nil
}

func (r *postgresNotificationStateRepo) MarkPublished(ctx context.Context, clientID int64, notificationID string, dealID int64, at time.Time) (bool, error) {
	query := `
		INSERT INTO notification_states (client_id, notification_id, deal_id, published_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, notification_id) DO UPDATE SET
			published_at = EXCLUDED.published_at
		WHERE notification_states.published_at IS NULL
	`
	res, err := r.executor().ExecContext(ctx, query, clientID, notificationID, dealID, at)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to mark notification published")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read affected rows")
	}
	return n > 0, nil
}

// splitIDs validates notification ids and extracts their deal ids.
func splitIDs(ids []string) ([]string, []int64, error) {
	dealIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		_, dealID, ok := deal.ParseNotificationID(id)
		if !ok {
			return nil, nil, errors.New(errors.ErrCodeNotificationIDBad, "malformed notification id").WithDetail("id=" + id)
		}
		dealIDs = append(dealIDs, dealID)
	}
	return ids, dealIDs, nil
}
