package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/sentinelpay/backend/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func init() {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 1)
}

var sessionColumns = []string{
	"id", "account", "transaction_id", "recipient_account", "amount",
	"currency", "location", "card_type", "source_ip", "state", "created_at", "resolved_at",
}

func newTestVerificationService(t *testing.T, db *sql.DB, redisClient *redis.Client, pins PinStore) *VerificationService {
	t.Helper()

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	return NewVerificationService(
		db,
		NewSessionStore(db),
		pins,
		NewBlacklistService(redisClient),
		NewHistoryStore(db, 5),
		NewSettlementService(redisClient, "SENTINEL"),
		NewNotificationService(db, publisher),
		NewQRService(redisClient),
	)
}

func expectPendingSession(dbMock sqlmock.Sqlmock, sessionID string) {
	dbMock.ExpectQuery("SELECT (.+) FROM verification_sessions").
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow(sessionID, "ACC1", "TXN-1", "ACC2", 9999.0, "INR", "Chennai", "VISA", "",
				models.SessionPending, time.Now(), nil))
}

func postVerify(t *testing.T, service *VerificationService, req VerifyRequest) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(req)
	assert.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	service.VerifyPIN(w, r)
	return w
}

func TestVerificationService_VerifyPIN_Correct(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()

	pinHash, err := hashSecret("4821")
	assert.NoError(t, err)

	pins := new(MockPinStore)
	pins.On("PinHash", mock.Anything, "ACC1").Return(pinHash, nil)

	service := newTestVerificationService(t, db, redisClient, pins)

	expectPendingSession(dbMock, "sess-1")
	dbMock.ExpectExec("UPDATE verification_sessions").
		WithArgs(models.SessionVerified, sqlmock.AnyArg(), "sess-1", models.SessionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE transactions").
		WithArgs("approved", true, "TXN-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectBegin()
	dbMock.ExpectExec("INSERT INTO account_history").
		WithArgs("ACC1", "TXN-1", 9999.0, "Chennai", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectExec("DELETE FROM account_history").
		WithArgs("ACC1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	dbMock.ExpectCommit()
	redisMock.Regexp().ExpectRPush("settlement_queue", `.*TXN-1.*`).SetVal(1)

	w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "4821", SessionID: "sess-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp VerifyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.SessionVerified, resp.State)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestVerificationService_VerifyPIN_Wrong(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()

	pinHash, err := hashSecret("4821")
	assert.NoError(t, err)

	pins := new(MockPinStore)
	pins.On("PinHash", mock.Anything, "ACC1").Return(pinHash, nil)

	service := newTestVerificationService(t, db, redisClient, pins)

	expectPendingSession(dbMock, "sess-1")
	dbMock.ExpectExec("UPDATE verification_sessions").
		WithArgs(models.SessionBlocked, sqlmock.AnyArg(), "sess-1", models.SessionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE transactions").
		WithArgs("blocked", false, "TXN-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Wrong PIN blacklists the recipient of the held transaction
	redisMock.Regexp().ExpectHSetNX("blacklist:account:ACC2", "added_at", `.+`).SetVal(true)
	redisMock.ExpectHSet("blacklist:account:ACC2",
		"reason", "failed PIN verification", "blocked_by", "ACC1").SetVal(2)

	w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "0000", SessionID: "sess-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp VerifyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, models.SessionBlocked, resp.State)
	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestVerificationService_VerifyPIN_Wrong_RegistryUnavailable(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()

	pinHash, err := hashSecret("4821")
	assert.NoError(t, err)

	pins := new(MockPinStore)
	pins.On("PinHash", mock.Anything, "ACC1").Return(pinHash, nil)

	service := newTestVerificationService(t, db, redisClient, pins)

	expectPendingSession(dbMock, "sess-1")
	redisMock.Regexp().ExpectHSetNX("blacklist:account:ACC2", "added_at", `.+`).SetErr(assert.AnError)

	w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "0000", SessionID: "sess-1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Error, "blacklisted")

	// The session was never resolved: the failed attempt can be retried once
	// the registry recovers, and the blacklist write is not lost.
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestVerificationService_VerifyPIN_AlreadyResolved(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	pins := new(MockPinStore)
	service := newTestVerificationService(t, db, redisClient, pins)

	dbMock.ExpectQuery("SELECT (.+) FROM verification_sessions").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("sess-1", "ACC1", "TXN-1", "ACC2", 9999.0, "INR", "Chennai", "VISA", "",
				models.SessionVerified, time.Now(), time.Now()))

	w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "4821", SessionID: "sess-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	pins.AssertNotCalled(t, "PinHash", mock.Anything, mock.Anything)
}

func TestVerificationService_VerifyPIN_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := newTestVerificationService(t, db, redisClient, new(MockPinStore))

	t.Run("non-numeric PIN", func(t *testing.T) {
		w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "abcd", SessionID: "sess-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong PIN length", func(t *testing.T) {
		w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "123", SessionID: "sess-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no session or transaction reference", func(t *testing.T) {
		w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "1234"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVerificationService_VerifyPIN_AccountMismatch(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := newTestVerificationService(t, db, redisClient, new(MockPinStore))

	expectPendingSession(dbMock, "sess-1")

	w := postVerify(t, service, VerifyRequest{Account: "INTRUDER", PIN: "4821", SessionID: "sess-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVerificationService_VerifyPIN_ByTransactionID(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()

	pins := new(MockPinStore)
	pins.On("PinHash", mock.Anything, "ACC1").Return("", ErrPinHashNotFound)

	service := newTestVerificationService(t, db, redisClient, pins)

	// Missing PIN enrollment resolves as a failed verification
	dbMock.ExpectQuery("SELECT (.+) FROM verification_sessions").
		WithArgs("TXN-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("sess-1", "ACC1", "TXN-1", "ACC2", 9999.0, "INR", "Chennai", "VISA", "",
				models.SessionPending, time.Now(), nil))
	redisMock.Regexp().ExpectHSetNX("blacklist:account:ACC2", "added_at", `.+`).SetVal(true)
	redisMock.ExpectHSet("blacklist:account:ACC2",
		"reason", "failed PIN verification", "blocked_by", "ACC1").SetVal(2)
	dbMock.ExpectExec("UPDATE verification_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postVerify(t, service, VerifyRequest{Account: "ACC1", PIN: "4821", TransactionID: "TXN-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp VerifyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, models.SessionBlocked, resp.State)
}

func TestVerificationService_RedeemQR(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := newTestVerificationService(t, db, redisClient, new(MockPinStore))

	redeem := func(code string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"code": code})
		assert.NoError(t, err)

		r := httptest.NewRequest(http.MethodPost, "/verify/qr", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.RedeemQR(w, r)
		return w
	}

	t.Run("valid code returns its session and is consumed", func(t *testing.T) {
		redisMock.ExpectGet("verifyqr:code123").
			SetVal(`{"session_id":"sess-1","timestamp":1756000000,"nonce":"abc"}`)
		redisMock.ExpectDel("verifyqr:code123").SetVal(1)
		expectPendingSession(dbMock, "sess-1")

		w := redeem("code123")
		assert.Equal(t, http.StatusOK, w.Code)

		var session models.VerificationSession
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
		assert.Equal(t, "sess-1", session.ID)
		assert.Equal(t, models.SessionPending, session.State)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		redisMock.ExpectGet("verifyqr:stale").RedisNil()

		w := redeem("stale")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		w := redeem("")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVerificationService_CancelSession(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, _ := redismock.NewClientMock()
	service := newTestVerificationService(t, db, redisClient, new(MockPinStore))

	t.Run("pending session cancels", func(t *testing.T) {
		expectPendingSession(dbMock, "sess-1")
		dbMock.ExpectExec("UPDATE verification_sessions").
			WithArgs(models.SessionCancelled, sqlmock.AnyArg(), "sess-1", models.SessionPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE transactions").
			WithArgs("cancelled", false, "TXN-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		r := httptest.NewRequest(http.MethodPost, "/verify/sess-1/cancel", nil)
		r = withChiURLParam(r, "id", "sess-1")
		w := httptest.NewRecorder()
		service.CancelSession(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp VerifyResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.SessionCancelled, resp.State)
	})

	t.Run("resolved session cannot cancel", func(t *testing.T) {
		expectPendingSession(dbMock, "sess-2")
		dbMock.ExpectExec("UPDATE verification_sessions").
			WithArgs(models.SessionCancelled, sqlmock.AnyArg(), "sess-2", models.SessionPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		r := httptest.NewRequest(http.MethodPost, "/verify/sess-2/cancel", nil)
		r = withChiURLParam(r, "id", "sess-2")
		w := httptest.NewRecorder()
		service.CancelSession(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
