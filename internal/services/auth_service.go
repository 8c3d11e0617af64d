package services

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/saccopay/backoffice/internal/models"
	"github.com/saccopay/backoffice/pkg/idgen"
)

// AuthService issues the opaque access tokens the ledger endpoints require.
// Tokens are JWTs carrying the operator username; logout revokes a token via
// the Redis blacklist the middleware checks.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	SaccoID  string `json:"sacco_id"`
}

// Login authenticates an operator and returns an access token.
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}

	var op models.Operator
	err := s.db.QueryRowContext(r.Context(),
		`SELECT id, username, sacco_id, password_hash FROM operators WHERE username = $1`,
		req.Username).Scan(&op.ID, &op.Username, &op.SaccoID, &op.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeEnvelope(w, http.StatusUnauthorized, "invalid credentials", nil)
			return
		}
		writeError(w, fmt.Errorf("login: %w", err))
		return
	}

	if !verifyPassword(req.Password, op.PasswordHash) {
		logrus.WithField("username", req.Username).Warn("failed login attempt")
		writeEnvelope(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	token, err := generateToken(op.Username, op.SaccoID)
	if err != nil {
		writeError(w, fmt.Errorf("generate token: %w", err))
		return
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(r.Context(),
		`UPDATE operators SET last_login = $1 WHERE id = $2`, now, op.ID); err != nil {
		logrus.Warnf("failed to stamp last login for %s: %v", op.Username, err)
	}

	writeSuccess(w, "login successful", LoginResponse{
		Token:    token,
		Username: op.Username,
		SaccoID:  op.SaccoID,
	})
}

// Logout blacklists the presented token until its natural expiry.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // strip "Bearer "
		if s.redis != nil {
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(r.Context(), "blacklist:"+token, "1", expiry).Err(); err != nil {
				logrus.Warnf("failed to blacklist token: %v", err)
			}
		}
	}
	writeSuccess(w, "logged out", nil)
}

func generateToken(username, saccoID string) (string, error) {
	viper.SetDefault("jwt.expiry_hours", 24)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"sacco_id": saccoID,
		"jti":      idgen.NewSessionID(),
		"exp":      time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func argon2Params() (timeCost, memory uint32, threads uint8, keyLength uint32) {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)

	return uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length"))
}

// hashPassword derives an argon2id hash with a fresh random salt, stored as
// base64(salt)$base64(hash).
func hashPassword(password string) (string, error) {
	viper.SetDefault("argon2.salt_length", 16)
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	timeCost, memory, threads, keyLength := argon2Params()
	hash := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, keyLength)
	return fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
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

	timeCost, memory, threads, keyLength := argon2Params()
	computed := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, keyLength)
	return subtle.ConstantTimeCompare(hash, computed) == 1
}
