package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sentinelpay/backend/internal/middleware"
	"github.com/sentinelpay/backend/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService manages user onboarding and token lifecycle. It also serves
// PIN hashes to the verification state machine.
type AuthService struct {
	db            *sql.DB
	redis         *redis.Client
	validator     *ValidationHelper
	notifications *NotificationService
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Name        string `json:"name" validate:"required,min=2" example:"Priya Raman"`        // Account holder name
	PhoneNumber string `json:"phone_number" validate:"required" example:"+919812345678"`    // Phone number for SMS notifications
	Password    string `json:"password" validate:"required,min=6" example:"password123"`    // Login password
	PIN         string `json:"pin" validate:"required,len=4,numeric" example:"4821"`        // 4-digit verification PIN
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Account  string `json:"account" validate:"required" example:"9182736450"`         // Account identifier
	Password string `json:"password" validate:"required,min=6" example:"password123"` // Login password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, notifications *NotificationService) *AuthService {
	return &AuthService{
		db:            db,
		redis:         redisClient,
		validator:     NewValidationHelper(),
		notifications: notifications,
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new account holder with phone number, password, and verification PIN
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 200 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashSecret(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	hashedPIN, err := hashSecret(req.PIN)
	if err != nil {
		log.Printf("[AUTH] PIN hashing failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	// Generate 10-digit account ID
	accountID := generateAccountID()

	var userID int
	err = s.db.QueryRowContext(r.Context(), `
        INSERT INTO users (name, phone_number, password, pin_hash, account_id, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, true, NOW())
        RETURNING id
    `, req.Name, req.PhoneNumber, hashedPassword, hashedPIN, accountID).Scan(&userID)
	if err != nil {
		log.Printf("[AUTH] User creation failed for %s: %v", req.PhoneNumber, err)
		SendErrorResponse(w, "Phone Number Already Registered", http.StatusConflict, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %d, Account: %s", userID, accountID)

	token, err := generateJWT(accountID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.notifications.DispatchSMS(accountID, fmt.Sprintf(
		"Welcome to SentinelPay. Your account number is %s.", accountID))

	response := AuthResponse{
		Token: token,
		User: models.User{
			ID:          userID,
			Name:        req.Name,
			AccountID:   accountID,
			PhoneNumber: req.PhoneNumber,
			IsActive:    true,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate with account number and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	var hashedPassword string
	err := s.db.QueryRowContext(r.Context(), `
        SELECT id, name, phone_number, password, account_id, is_active
        FROM users
        WHERE account_id = $1
    `, req.Account).Scan(&user.ID, &user.Name, &user.PhoneNumber, &hashedPassword, &user.AccountID, &user.IsActive)
	if err != nil {
		log.Printf("[AUTH] User not found for account: %s", req.Account)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifySecret(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for account: %s", req.Account)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(user.AccountID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for account %s: %v", user.AccountID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(), `UPDATE users SET last_login = NOW() WHERE id = $1`, user.ID); err != nil {
		log.Printf("[AUTH] Failed to record last login for account %s: %v", user.AccountID, err)
	}

	log.Printf("[AUTH] Login successful for account %s", user.AccountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("token_blacklist:%s", token)
			// Blacklist token until its expiration
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// GetUserAccount retrieves user account details from auth token
// @Summary Get user account details
// @Description Get authenticated user's account information
// @Tags auth
// @Produce json
// @Success 200 {object} models.User "User account details"
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/account [get]
func (s *AuthService) GetUserAccount(w http.ResponseWriter, r *http.Request) {
	account, _ := r.Context().Value(middleware.AccountKey).(string)
	if account == "" {
		log.Printf("[AUTH] Unauthorized account request - no account in context")
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(r.Context(), `
        SELECT id, name, phone_number, account_id, is_active, last_login, created_at
        FROM users
        WHERE account_id = $1
    `, account).Scan(&user.ID, &user.Name, &user.PhoneNumber, &user.AccountID, &user.IsActive, &lastLogin, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[AUTH] Failed to fetch user details for account %s: %v", account, err)
			SendErrorResponse(w, "Failed to fetch user details", http.StatusInternalServerError, nil)
		}
		return
	}
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// PinHash returns the stored verification PIN hash for an account. Returns
// ErrPinHashNotFound for unknown accounts so callers can treat a missing
// enrollment as a failed verification rather than a server fault.
func (s *AuthService) PinHash(ctx context.Context, account string) (string, error) {
	var pinHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT pin_hash FROM users WHERE account_id = $1`, account).Scan(&pinHash)
	if err == sql.ErrNoRows {
		return "", ErrPinHashNotFound
	}
	if err != nil {
		return "", err
	}
	return pinHash, nil
}

func generateJWT(account string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account": account,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashSecret(secret string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifySecret(secret, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

func generateAccountID() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
