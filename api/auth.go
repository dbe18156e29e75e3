package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/escrow/id"
)

// Claims is the bearer token payload.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty issuer is neither set
// nor checked.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer, clock: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID id.UserID, role string, ttl time.Duration) (string, error) {
	now := a.clock()
	claims := Claims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns the user it names.
func (a *Authenticator) Verify(token string) (id.UserID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := new(Claims)
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return id.Nil, ErrUnauthenticated
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return id.Nil, ErrUnauthenticated
	}
	return userID, nil
}

type contextKey string

const ctxUserID contextKey = "userID"

// UserIDFrom returns the authenticated user, if any.
func UserIDFrom(ctx context.Context) (id.UserID, bool) {
	v, ok := ctx.Value(ctxUserID).(id.UserID)
	return v, ok && !v.IsNil()
}

// identify attaches the bearer token's user to the request. With required
// set, a missing or bad token is rejected; otherwise the request proceeds
// as a guest unless a token is present and invalid.
func (s *Server) identify(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if errors.Is(err, errNoToken) && !required {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				s.unauthenticated(w)
				return
			}
			userID, err := s.auth.Verify(token)
			if err != nil {
				s.unauthenticated(w)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) unauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, Envelope{Success: false, Message: "Unauthenticated."})
}

var errNoToken = errors.New("no bearer token")

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errNoToken
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrUnauthenticated
	}
	return strings.TrimSpace(token), nil
}
