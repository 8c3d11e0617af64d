package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

// UsernameKey carries the authenticated operator's username; services read it
// for createdBy/approvedBy/modifiedBy audit stamping.
const UsernameKey contextKey = "username"

var redisClient *redis.Client

// InitAuthMiddleware wires the Redis client used for the logout blacklist.
// A nil client disables blacklist checks but not token validation.
func InitAuthMiddleware(client *redis.Client) {
	redisClient = client
}

// writeUnauthorized mirrors the {code, message, entity} envelope the service
// handlers use, so auth rejections parse the same as every other response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": message,
		"entity":  nil,
	})
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized(w, "authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeUnauthorized(w, "invalid authorization header format")
			return
		}

		token := parts[1]

		if redisClient != nil {
			blacklisted, err := redisClient.Exists(r.Context(), "blacklist:"+token).Result()
			if err == nil && blacklisted > 0 {
				writeUnauthorized(w, "token revoked")
				return
			}
		}

		username, err := validateToken(token)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("token missing username claim")
	}
	return username, nil
}
