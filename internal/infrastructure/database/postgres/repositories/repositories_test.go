package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	pkgerrors "github.com/turtacn/loan-portal/pkg/errors"
)

func newMockConn(t *testing.T) (*postgres.Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewConnectionWithDB(db, nil), mock
}

var dealRowColumns = []string{
	"id", "name", "price", "status_id", "status_name", "status_color",
	"pipeline_id", "pipeline_name", "responsible_user_id", "created_at", "updated_at", "custom_fields",
}

const termFieldsJSON = `[{"field_name":"Срок займа","field_code":"","values":[{"value":"45"}]}]`

func TestDealRepo_UpsertClient(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO clients").
		WithArgs(int64(5), "Иван", "+79123456789", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertClient(context.Background(), deal.ClientRecord{ID: 5, Name: "Иван", Phone: "+79123456789", SyncedAt: at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_UpsertDeals(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	deals := []deal.RawDeal{
		{ID: 1, Name: "A", Price: decimal.NewFromInt(1000), StatusName: deal.StatusApproved, CreatedAt: 100, UpdatedAt: 200},
		{ID: 2, Name: "B", Price: decimal.RequireFromString("2000.50"), StatusName: deal.StatusUnderReview, CreatedAt: 300, UpdatedAt: 400},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO deals")
	prep.ExpectExec().
		WithArgs(int64(1), int64(9), "A", "1000", int64(0), deal.StatusApproved, "", int64(0), "", int64(0), int64(100), int64(200), []byte("[]")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(int64(2), int64(9), "B", "2000.5", int64(0), deal.StatusUnderReview, "", int64(0), "", int64(0), int64(300), int64(400), []byte("[]")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertDeals(context.Background(), 9, deals))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_UpsertDeals_RollsBackOnFailure(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO deals").ExpectExec().WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := repo.UpsertDeals(context.Background(), 9, []deal.RawDeal{{ID: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_UpsertDeals_Empty(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)
	assert.NoError(t, repo.UpsertDeals(context.Background(), 9, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ReplaceDeals(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	deals := []deal.RawDeal{
		{ID: 1, Name: "A", Price: decimal.NewFromInt(1000), CreatedAt: 100, UpdatedAt: 200},
		{ID: 2, Name: "B", Price: decimal.NewFromInt(500), CreatedAt: 300, UpdatedAt: 400},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO deals")
	prep.ExpectExec().WithArgs(int64(1), int64(9), "A", "1000", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(100), int64(200), []byte("[]")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), int64(9), "B", "500", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(300), int64(400), []byte("[]")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM deals WHERE client_id").
		WithArgs(int64(9), "{1,2}").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceDeals(context.Background(), 9, deals))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ReplaceDeals_EmptyClearsClient(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM deals WHERE client_id").
		WithArgs(int64(9), "{}").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceDeals(context.Background(), 9, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ReplaceDeals_PruneFailureRollsBack(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO deals").ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM deals WHERE client_id").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := repo.ReplaceDeals(context.Background(), 9, []deal.RawDeal{{ID: 1}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_DeleteDeals(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectExec("DELETE FROM deals WHERE id").
		WithArgs("{5,6}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.DeleteDeals(context.Background(), []int64{5, 6})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteDeals(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_FindClientByPhone(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, phone, email, synced_at FROM clients").
		WithArgs("+79123456789").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "email", "synced_at"}).
			AddRow(int64(5), "Иван", "+79123456789", "ivan@example.com", at))

	c, err := repo.FindClientByPhone(context.Background(), "+79123456789")
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, "ivan@example.com", c.Email)

	mock.ExpectQuery("FROM clients").WithArgs("+70000000000").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindClientByPhone(context.Background(), "+70000000000")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeClientNotFound))
	assert.True(t, pkgerrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ListByClient(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectQuery("FROM deals d WHERE d.client_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(dealRowColumns).
			AddRow(int64(2), "B", "2000.00", int64(0), deal.StatusApproved, "#fff", int64(0), "", int64(0), int64(300), int64(400), []byte(termFieldsJSON)).
			AddRow(int64(1), "A", "1000.00", int64(0), deal.StatusRejected, "", int64(0), "", int64(0), int64(100), int64(200), []byte("[]")))

	deals, err := repo.ListByClient(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, int64(2), deals[0].ID)
	assert.Equal(t, "2000", deals[0].Price.String())
	term, ok := deal.ExtractField(deals[0].CustomFields, deal.FieldLoanTerm, deal.FieldCodeLoanTerm)
	assert.True(t, ok)
	assert.Equal(t, "45", term)
	assert.Empty(t, deals[1].CustomFields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ListByClient_BadFields(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)

	mock.ExpectQuery("FROM deals").
		WillReturnRows(sqlmock.NewRows(dealRowColumns).
			AddRow(int64(2), "B", "2000", int64(0), "", "", int64(0), "", int64(0), int64(0), int64(0), []byte("{oops")))

	_, err := repo.ListByClient(context.Background(), 5)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func TestDealRepo_FindDeal(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)
	cols := append([]string{"client_id", "phone"}, dealRowColumns...)

	mock.ExpectQuery("JOIN clients c ON c.id = d.client_id").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(5), "+79123456789", int64(2), "B", "2000", int64(0), deal.StatusUnderReview, "", int64(0), "", int64(0), int64(300), int64(400), []byte("[]")))

	cd, err := repo.FindDeal(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cd.ClientID)
	assert.Equal(t, "+79123456789", cd.Phone)
	assert.Equal(t, deal.StatusUnderReview, cd.Deal.StatusName)

	mock.ExpectQuery("JOIN clients").WithArgs(int64(404)).WillReturnError(sql.ErrNoRows)
	_, err = repo.FindDeal(context.Background(), 404)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDealNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealRepo_ListByStatus(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewDealRepository(conn, nil)
	cols := append([]string{"client_id", "phone"}, dealRowColumns...)

	mock.ExpectQuery("WHERE d.status_name = \\$1").
		WithArgs(deal.StatusApproved, 100, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(5), "+79123456789", int64(2), "B", "2000", int64(0), deal.StatusApproved, "", int64(0), "", int64(0), int64(300), int64(400), []byte("[]")))

	out, err := repo.ListByStatus(context.Background(), deal.StatusApproved, 0, -5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].Deal.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationStateRepo_States(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewNotificationStateRepository(conn, nil)
	at := time.Date(2024, 1, 29, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM notification_states").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"notification_id", "deal_id", "delivered", "read", "published_at", "delivered_at", "read_at"}).
			AddRow("soon-2", int64(2), true, true, at, at, at).
			AddRow("overdue-3", int64(3), false, false, nil, nil, nil))

	states, err := repo.States(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.True(t, states["soon-2"].Read)
	require.NotNil(t, states["soon-2"].ReadAt)
	assert.True(t, at.Equal(*states["soon-2"].ReadAt))
	assert.Nil(t, states["overdue-3"].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationStateRepo_MarkDelivered(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewNotificationStateRepository(conn, nil)
	at := time.Now()

	mock.ExpectExec("INSERT INTO notification_states").
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkDelivered(context.Background(), 5, []string{"soon-2", "overdue-3"}, at))
	require.NoError(t, repo.MarkDelivered(context.Background(), 5, nil, at))

	err := repo.MarkDelivered(context.Background(), 5, []string{"bogus"}, at)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNotificationIDBad))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationStateRepo_MarkRead(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewNotificationStateRepository(conn, nil)
	at := time.Now()

	mock.ExpectExec("SET\\s+read = TRUE").
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.MarkRead(context.Background(), 5, []string{"soon-2"}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.MarkRead(context.Background(), 5, []string{}, at)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationStateRepo_MarkPublished(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewNotificationStateRepository(conn, nil)
	at := time.Now()

	mock.ExpectExec("published_at IS NULL").
		WithArgs(int64(5), "soon-2", int64(2), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("published_at IS NULL").
		WithArgs(int64(5), "soon-2", int64(2), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkPublished(context.Background(), 5, "soon-2", 2, at)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkPublished(context.Background(), 5, "soon-2", 2, at)
	require.NoError(t, err)
	assert.False(t, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepo(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := NewChatRepository(conn, nil)

	mock.ExpectExec("INSERT INTO client_chats").WithArgs(int64(5), int64(777)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.LinkChat(context.Background(), 5, 777))

	mock.ExpectQuery("SELECT chat_id FROM client_chats").WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"chat_id"}).AddRow(int64(777)))
	chatID, err := repo.ChatFor(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(777), chatID)

	mock.ExpectQuery("SELECT chat_id FROM client_chats").WithArgs(int64(6)).WillReturnError(sql.ErrNoRows)
	_, err = repo.ChatFor(context.Background(), 6)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeChatNotLinked))

	assert.NoError(t, mock.ExpectationsWereMet())
}
