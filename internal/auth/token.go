package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Tokens signs and verifies session JWTs and manages the auth cookie.
type Tokens struct {
	Secret        []byte
	TTL           time.Duration
	CookieName    string
	SecureCookies bool
}

// Claims is the identity carried in a token.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Sign issues a token for the user.
func (t *Tokens) Sign(id, username string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id,
		"username": username,
		"exp":      exp.Unix(),
		"iat":      now.Unix(),
	})
	ss, err := token.SignedString(t.Secret)
	return ss, exp, err
}

// Parse verifies a token and extracts its claims.
func (t *Tokens) Parse(tokenStr string) (*Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if id == "" || username == "" {
		return nil, errors.New("invalid token")
	}
	return &Claims{ID: id, Username: username}, nil
}

// SetCookie stores the token in an HTTP-only cookie.
func (t *Tokens) SetCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, t.cookie(token, exp, 0))
}

// ClearCookie expires the auth cookie.
func (t *Tokens) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie("", time.Time{}, -1))
}

func (t *Tokens) cookie(value string, exp time.Time, maxAge int) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if t.SecureCookies {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     t.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   t.SecureCookies,
		SameSite: sameSite,
		Expires:  exp,
		MaxAge:   maxAge,
	}
}

// FromRequest returns the bearer token or, failing that, the cookie value.
func (t *Tokens) FromRequest(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(t.CookieName); err == nil {
		return c.Value
	}
	return ""
}

type contextKey string

var userCtxKey = contextKey("user")

// RequireAuth rejects requests without a valid token for an existing user.
func RequireAuth(t *Tokens, users Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := t.FromRequest(r)
			if tokenStr == "" {
				writeUnauthorized(w, "Unauthorized")
				return
			}
			claims, err := t.Parse(tokenStr)
			if err != nil {
				writeUnauthorized(w, "Invalid token")
				return
			}
			if _, err := users.UserByID(r.Context(), claims.ID); err != nil {
				log.Debug().Str("user", claims.ID).Msg("token for unknown user")
				writeUnauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims attaches an identity to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, userCtxKey, c)
}

// CurrentUser returns the identity attached by RequireAuth.
func CurrentUser(ctx context.Context) (*Claims, bool) {
	c, _ := ctx.Value(userCtxKey).(*Claims)
	return c, c != nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
