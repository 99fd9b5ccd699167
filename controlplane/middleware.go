// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"fleetbridge/platform/shared/logger"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyOperator  contextKey = "operator"
)

// Operator is the authenticated caller extracted from a JWT.
type Operator struct {
	Subject string
	Email   string
	Role    string
}

// OperatorFromContext returns the authenticated operator, if any.
func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(ctxKeyOperator).(*Operator)
	return op, ok
}

// RequestIDFromContext returns the request id assigned by the logging
// middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLoggingMiddleware assigns a request id, logs every request with
// its outcome, and feeds the request metrics.
func requestLoggingMiddleware(lg *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := generateRequestID()
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := routeTemplate(r)
			elapsed := time.Since(start)
			promRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
			promRequestDuration.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))

			lg.InfoWithDuration(0, requestID, "request completed",
				float64(elapsed.Milliseconds()), map[string]interface{}{
					"method": r.Method,
					"path":   r.URL.Path,
					"route":  route,
					"status": rec.status,
				})
		})
	}
}

// routeTemplate returns the mux route pattern so metrics do not explode
// per path variable.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// authMiddleware validates the bearer JWT on every request it wraps.
// Callback routes are excluded at the router level; they carry their own
// webhook signature.
func authMiddleware(secret string, lg *logger.Logger) mux.MiddlewareFunc {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				sendErrorResponse(w, err.Error(), http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				lg.Warn(0, RequestIDFromContext(r.Context()), "rejected invalid token",
					map[string]interface{}{"path": r.URL.Path})
				sendErrorResponse(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				sendErrorResponse(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			op := &Operator{
				Subject: getClaimString(claims, "sub"),
				Email:   getClaimString(claims, "email"),
				Role:    getClaimString(claims, "role"),
			}
			ctx := context.WithValue(r.Context(), ctxKeyOperator, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", fmt.Errorf("authorization header must be a bearer token")
	}
	return token, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func generateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().Unix(), generateRandomString(8))
}

func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			b[i] = charset[int(time.Now().UnixNano())%len(charset)]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}
