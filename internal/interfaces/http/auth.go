package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

const actorKey = "actor"

// Claims are the bearer token claims identifying an actor
type Claims struct {
	UID      int64  `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator signing with secret
func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for actor
func (a *Authenticator) Issue(actor *entity.Actor) (string, error) {
	now := a.now()
	claims := Claims{
		UID:      actor.ID,
		Username: actor.Username,
		Role:     actor.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   actor.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token and returns the actor it names
func (a *Authenticator) Verify(tokenString string) (*entity.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}

	if claims.UID <= 0 || claims.Username == "" {
		return nil, errors.New("token does not identify a user")
	}
	role := entity.Role(claims.Role)
	switch role {
	case entity.RoleStaff, entity.RoleApproverL1, entity.RoleApproverL2, entity.RoleFinance:
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}

	return &entity.Actor{ID: claims.UID, Username: claims.Username, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the actor
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			abortUnauthenticated(c, "missing bearer token")
			return
		}

		actor, err := a.Verify(parts[1])
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Success: false,
		Error:   msg,
		Code:    "unauthenticated",
	})
}

// actorFrom returns the actor stored by Middleware
func actorFrom(c *gin.Context) *entity.Actor {
	actor, _ := c.MustGet(actorKey).(*entity.Actor)
	return actor
}
