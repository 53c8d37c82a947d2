package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

const dealColumns = `d.id, d.name, d.price, d.status_id, d.status_name, d.status_color,
	d.pipeline_id, d.pipeline_name, d.responsible_user_id, d.created_at, d.updated_at, d.custom_fields`

type postgresDealRepo struct {
	baseRepo
}

// NewDealRepository returns the PostgreSQL deal mirror.
func NewDealRepository(conn *postgres.Connection, log logging.Logger) deal.DealRepository {
	return &postgresDealRepo{baseRepo: newBaseRepo(conn, log, "deal_repo")}
}

func (r *postgresDealRepo) UpsertClient(ctx context.Context, c deal.ClientRecord) error {
	query := `
		INSERT INTO clients (id, name, phone, email, synced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			synced_at = EXCLUDED.synced_at
	`
	syncedAt := c.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	if _, err := r.executor().ExecContext(ctx, query, c.ID, c.Name, c.Phone, c.Email, syncedAt); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert client")
	}
	return nil
}

const upsertDealQuery = `
	INSERT INTO deals (
		id, client_id, name, price, status_id, status_name, status_color,
		pipeline_id, pipeline_name, responsible_user_id, created_at, updated_at,
		custom_fields, synced_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	ON CONFLICT (id) DO UPDATE SET
		client_id = EXCLUDED.client_id,
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		status_id = EXCLUDED.status_id,
		status_name = EXCLUDED.status_name,
		status_color = EXCLUDED.status_color,
		pipeline_id = EXCLUDED.pipeline_id,
		pipeline_name = EXCLUDED.pipeline_name,
		responsible_user_id = EXCLUDED.responsible_user_id,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		custom_fields = EXCLUDED.custom_fields,
		synced_at = NOW()
`

func (r *postgresDealRepo) UpsertDeals(ctx context.Context, clientID int64, deals []deal.RawDeal) error {
	if len(deals) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		return r.upsertDeals(ctx, tx, clientID, deals)
	})
}

func (r *postgresDealRepo) ReplaceDeals(ctx context.Context, clientID int64, deals []deal.RawDeal) error {
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if len(deals) > 0 {
			if err := r.upsertDeals(ctx, tx, clientID, deals); err != nil {
				return err
			}
		}
		keep := make([]int64, len(deals))
		for i, d := range deals {
			keep[i] = d.ID
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM deals WHERE client_id = $1 AND NOT (id = ANY($2))`, clientID, pq.Array(keep))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to prune deals").
				WithDetail("client_id=" + itoa(clientID))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.log.Info("Pruned deals gone from the CRM", logging.Int64("client_id", clientID), logging.Int64("count", n))
		}
		return nil
	})
}

func (r *postgresDealRepo) upsertDeals(ctx context.Context, tx *sql.Tx, clientID int64, deals []deal.RawDeal) error {
	stmt, err := tx.PrepareContext(ctx, upsertDealQuery)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to prepare deal upsert")
	}
	defer stmt.Close()

	for _, d := range deals {
		fields, err := json.Marshal(nonNilFields(d.CustomFields))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode custom fields")
		}
		if _, err := stmt.ExecContext(ctx,
			d.ID, clientID, d.Name, d.Price, d.StatusID, d.StatusName, d.StatusColor,
			d.PipelineID, d.PipelineName, d.ResponsibleUserID, d.CreatedAt, d.UpdatedAt, fields,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert deal").
				WithDetail("deal_id=" + itoa(d.ID))
		}
	}
	r.log.Debug("Upserted deals", logging.Int64("client_id", clientID), logging.Int("count", len(deals)))
	return nil
}

func (r *postgresDealRepo) DeleteDeals(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.executor().ExecContext(ctx, `DELETE FROM deals WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete deals")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count deleted deals")
	}
	return n, nil
}

func (r *postgresDealRepo) FindClientByPhone(ctx context.Context, phone string) (*deal.ClientRecord, error) {
	query := `SELECT id, name, phone, email, synced_at FROM clients WHERE phone = $1`
	var c deal.ClientRecord
	err := r.executor().QueryRowContext(ctx, query, phone).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeClientNotFound, "client not found").WithDetail("phone=" + phone)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to find client")
	}
	return &c, nil
}

func (r *postgresDealRepo) ListByClient(ctx context.Context, clientID int64) ([]deal.RawDeal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals d WHERE d.client_id = $1 ORDER BY d.created_at DESC, d.id DESC`
	rows, err := r.executor().QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query deals")
	}
	defer rows.Close()

	out := make([]deal.RawDeal, 0)
	for rows.Next() {
		d, err := scanRawDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate deals")
	}
	return out, nil
}

func (r *postgresDealRepo) FindDeal(ctx context.Context, dealID int64) (*deal.ClientDeal, error) {
	query := `SELECT c.id, c.phone, ` + dealColumns + `
		FROM deals d JOIN clients c ON c.id = d.client_id
		WHERE d.id = $1`
	cd, err := scanClientDeal(r.executor().QueryRowContext(ctx, query, dealID))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeDealNotFound, "deal not found").WithDetail("deal_id=" + itoa(dealID))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to find deal")
	}
	return cd, nil
}

func (r *postgresDealRepo) ListByStatus(ctx context.Context, statusName string, limit, offset int) ([]deal.ClientDeal, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT c.id, c.phone, ` + dealColumns + `
		FROM deals d JOIN clients c ON c.id = d.client_id
		WHERE d.status_name = $1
		ORDER BY d.id
		LIMIT $2 OFFSET $3`
	rows, err := r.executor().QueryContext(ctx, query, statusName, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query deals by status")
	}
	defer rows.Close()

	out := make([]deal.ClientDeal, 0)
	for rows.Next() {
		cd, err := scanClientDeal(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan deal")
		}
		out = append(out, *cd)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate deals")
	}
	return out, nil
}

func rawDealDest(d *deal.RawDeal, fields *[]byte) []interface{} {
	return []interface{}{
		&d.ID, &d.Name, &d.Price, &d.StatusID, &d.StatusName, &d.StatusColor,
		&d.PipelineID, &d.PipelineName, &d.ResponsibleUserID, &d.CreatedAt, &d.UpdatedAt, fields,
	}
}

func scanRawDeal(s scanner) (*deal.RawDeal, error) {
	var d deal.RawDeal
	var fields []byte
	if err := s.Scan(rawDealDest(&d, &fields)...); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan deal")
	}
	if err := decodeFields(fields, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanClientDeal(s scanner) (*deal.ClientDeal, error) {
	var cd deal.ClientDeal
	var fields []byte
	dest := append([]interface{}{&cd.ClientID, &cd.Phone}, rawDealDest(&cd.Deal, &fields)...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if err := decodeFields(fields, &cd.Deal); err != nil {
		return nil, err
	}
	return &cd, nil
}

func decodeFields(raw []byte, d *deal.RawDeal) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &d.CustomFields); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode custom fields").
			WithDetail("deal_id=" + itoa(d.ID))
	}
	return nil
}

func nonNilFields(f []deal.CustomField) []deal.CustomField {
	if f == nil {
		return []deal.CustomField{}
	}
	return f
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
