package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sentinelpay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSessionStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewSessionStore(db)

	tx := &models.Transaction{
		TransactionID:    "TXN-1",
		Account:          "ACC1",
		RecipientAccount: "ACC2",
		Amount:           9999.0,
		Currency:         "INR",
		Location:         "Chennai",
		CardType:         "VISA",
	}

	mock.ExpectExec("INSERT INTO verification_sessions").
		WithArgs(sqlmock.AnyArg(), "ACC1", "TXN-1", "ACC2", 9999.0, "INR", "Chennai", "VISA", "",
			models.SessionPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session, err := store.Create(context.Background(), tx)
	assert.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionPending, session.State)
	assert.False(t, session.Terminal())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewSessionStore(db)

	t.Run("pending session resolves", func(t *testing.T) {
		mock.ExpectExec("UPDATE verification_sessions").
			WithArgs(models.SessionVerified, sqlmock.AnyArg(), "sess-1", models.SessionPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Resolve(context.Background(), "sess-1", models.SessionVerified)
		assert.NoError(t, err)
	})

	t.Run("already resolved session is rejected", func(t *testing.T) {
		mock.ExpectExec("UPDATE verification_sessions").
			WithArgs(models.SessionBlocked, sqlmock.AnyArg(), "sess-1", models.SessionPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Resolve(context.Background(), "sess-1", models.SessionBlocked)
		assert.ErrorIs(t, err, ErrInvalidSessionState)
	})
}

func TestSessionStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewSessionStore(db)

	t.Run("pending session", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM verification_sessions").
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows(sessionColumns).
				AddRow("sess-1", "ACC1", "TXN-1", "ACC2", 9999.0, "INR", "Chennai", "VISA", "",
					models.SessionPending, time.Now(), nil))

		session, err := store.Get(context.Background(), "sess-1")
		assert.NoError(t, err)
		assert.Equal(t, "sess-1", session.ID)
		assert.Equal(t, "ACC1", session.Txn.Account)
		assert.Equal(t, "TXN-1", session.Txn.TransactionID)
		assert.Nil(t, session.ResolvedAt)
	})

	t.Run("resolved session carries resolution time", func(t *testing.T) {
		resolvedAt := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM verification_sessions").
			WithArgs("sess-2").
			WillReturnRows(sqlmock.NewRows(sessionColumns).
				AddRow("sess-2", "ACC1", "TXN-2", "ACC2", 100.0, "INR", "Chennai", "VISA", "",
					models.SessionVerified, time.Now(), resolvedAt))

		session, err := store.Get(context.Background(), "sess-2")
		assert.NoError(t, err)
		assert.True(t, session.Terminal())
		assert.NotNil(t, session.ResolvedAt)
	})

	t.Run("unknown session", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM verification_sessions").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
