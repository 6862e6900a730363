package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"cafepos/pkg/models"
)

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// StaffClaims is the JWT payload issued by the identity provider at login.
type StaffClaims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate resolves the bearer token into an Actor and stores it on the
// request context. Requests without a valid token are rejected before any
// handler runs.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actorFromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"` + err.Error() + `"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func (a *Authenticator) actorFromRequest(r *http.Request) (models.Actor, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return models.Actor{}, ErrMissingToken
	}

	claims := &StaffClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return a.secret, nil
		})
	if err != nil || !token.Valid {
		return models.Actor{}, ErrInvalidToken
	}

	id, err := claims.GetSubject()
	if err != nil || id == "" {
		return models.Actor{}, ErrInvalidToken
	}
	actorID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return models.Actor{}, ErrInvalidToken
	}

	switch claims.Role {
	case models.RoleCashier, models.RoleBarista, models.RoleCourier, models.RoleManager:
	default:
		return models.Actor{}, ErrInvalidToken
	}

	return models.Actor{ID: actorID, Name: claims.Name, Role: claims.Role}, nil
}

// IssueToken mints a token for the given actor. Used by tests and the local
// development login stub.
func (a *Authenticator) IssueToken(actor models.Actor, claims StaffClaims) (string, error) {
	claims.Name = actor.Name
	claims.Role = actor.Role
	claims.Subject = strconv.FormatInt(actor.ID, 10)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ActorFrom returns the authenticated actor stored by Authenticate.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}
