package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

var paymentRowColumns = []string{
	"id", "driver_id", "amount", "method", "state", "gateway_reference", "failure_reason", "refund_reason",
	"created_at", "confirmed_at", "failed_at", "refunded_at", "version",
}

func setupPaymentMock(t *testing.T) (*PaymentRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPaymentRepository(db), mock
}

func TestPaymentRepository_Create_WritesPaymentAndEvent(t *testing.T) {
	repo, mock := setupPaymentMock(t)
	now := time.Now()

	payment := &domain.Payment{
		ID:        "pay-1",
		DriverID:  "driver-1",
		Amount:    50000,
		Method:    domain.PaymentMethodMobileMoney,
		State:     domain.PaymentStateInitiated,
		CreatedAt: now,
	}
	event := &domain.Event{
		ID:         "evt-1",
		EntityID:   "pay-1",
		EntityType: domain.EntityPayment,
		DriverID:   "driver-1",
		Type:       domain.EventPaymentInitiated,
		ToState:    string(domain.PaymentStateInitiated),
		OccurredAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").
		WithArgs("pay-1", "driver-1", int64(50000), "mobile_money", "initiated",
			nil, nil, nil, now, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger_events").
		WithArgs("evt-1", "pay-1", "payment", "driver-1", "payment.initiated", "", "initiated", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), payment, event)
	require.NoError(t, err)
	assert.Equal(t, int64(1), payment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Create_EventFailureRollsBack(t *testing.T) {
	repo, mock := setupPaymentMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger_events").WillReturnError(&pq.Error{Code: "08006"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &domain.Payment{ID: "pay-1"}, &domain.Event{ID: "evt-1"})
	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByID(t *testing.T) {
	repo, mock := setupPaymentMock(t)
	created := time.Now().Add(-time.Hour)
	confirmed := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE id = \\$1").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows(paymentRowColumns).AddRow(
			"pay-1", "driver-1", int64(50000), "card", "confirmed", "gw-1", nil, nil,
			created, confirmed, nil, nil, int64(3),
		))

	payment, err := repo.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateConfirmed, payment.State)
	assert.Equal(t, "gw-1", payment.GatewayReference)
	assert.Equal(t, confirmed, payment.ConfirmedAt)
	assert.True(t, payment.FailedAt.IsZero())
	assert.Equal(t, int64(3), payment.Version)
}

func TestPaymentRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupPaymentMock(t)

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(paymentRowColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPaymentRepository_Update_BumpsVersion(t *testing.T) {
	repo, mock := setupPaymentMock(t)
	now := time.Now()

	payment := &domain.Payment{
		ID:               "pay-1",
		DriverID:         "driver-1",
		State:            domain.PaymentStateConfirmed,
		GatewayReference: "gw-1",
		ConfirmedAt:      now,
		Version:          2,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs("confirmed", "gw-1", nil, nil, now, nil, nil, "pay-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Update(context.Background(), payment, &domain.Event{ID: "evt-2", OccurredAt: now})
	require.NoError(t, err)
	assert.Equal(t, int64(3), payment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Update_VersionConflict(t *testing.T) {
	repo, mock := setupPaymentMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	payment := &domain.Payment{ID: "pay-1", Version: 1}
	err := repo.Update(context.Background(), payment, &domain.Event{ID: "evt-2"})
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, int64(1), payment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Update_NotFound(t *testing.T) {
	repo, mock := setupPaymentMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("pay-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), &domain.Payment{ID: "pay-404", Version: 1}, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPaymentRepository_ListByState(t *testing.T) {
	repo, mock := setupPaymentMock(t)
	cutoff := time.Now()
	from := cutoff.Add(-24 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE state = \\$1 AND created_at >= \\$2 AND created_at < \\$3").
		WithArgs("initiated", from, cutoff, 10).
		WillReturnRows(sqlmock.NewRows(paymentRowColumns).
			AddRow("pay-1", "driver-1", int64(50000), "card", "initiated", nil, nil, nil, cutoff.Add(-time.Hour), nil, nil, nil, int64(1)).
			AddRow("pay-2", "driver-2", int64(50000), "bank_transfer", "initiated", nil, nil, nil, cutoff.Add(-time.Minute), nil, nil, nil, int64(1)))

	payments, err := repo.ListByState(context.Background(), domain.PaymentStateInitiated, from, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "pay-1", payments[0].ID)
	assert.Equal(t, domain.PaymentMethodBankTransfer, payments[1].Method)
}
