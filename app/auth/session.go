// Package auth resolves the signed-in user of a request from the session token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/usage"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const SessionCookie = "guilded_session"

var ErrUnauthenticated = errors.New("authentication required")

// Claims are issued by the sign-in service. Subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.CONFIG.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ParseToken: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("ParseToken: token missing sub")
	}
	return claims, nil
}

// IssueToken signs a session token for the user.
func IssueToken(userID, email, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(config.CONFIG.JWTSecret))
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return string(ctx.Request.Header.Cookie(SessionCookie))
}

// CurrentUser returns the signed-in user, registering them on first sight with the lowest tier.
// The result is cached on the request.
func CurrentUser(ctx *fasthttp.RequestCtx) (*models.User, error) {
	if user, ok := ctx.UserValue(models.UserContext{}).(*models.User); ok {
		return user, nil
	}

	tokenString := TokenFromRequest(ctx)
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := ParseToken(tokenString)
	if err != nil {
		log.Debugf("CurrentUser: rejected token: %v", err)
		return nil, ErrUnauthenticated
	}

	user, err := findOrCreateUser(context.Background(), claims)
	if err != nil {
		return nil, err
	}
	ctx.SetUserValue(models.UserContext{}, user)
	return user, nil
}

func findOrCreateUser(ctx context.Context, claims *Claims) (*models.User, error) {
	user, err := mongo.MongoDBClient.GetUser(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, mongo.ErrUserNotFound) {
		return nil, fmt.Errorf("findOrCreateUser: %w", err)
	}

	now := time.Now().UTC()
	err = mongo.MongoDBClient.CreateUser(ctx, models.User{
		ID:                 claims.Subject,
		Email:              claims.Email,
		Name:               claims.Name,
		Tier:               lib.LowestTier,
		SubscriptionStatus: models.SubscriptionStatusNone,
		AIUsageResetDate:   usage.NextResetDate(now),
		CreatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("findOrCreateUser: create: %w", err)
	}
	log.Infof("registered user %s", claims.Subject)
	config.CONFIG.DataDogClient.Incr("user.registered", nil, 1)

	// a concurrent first request may have created it already
	user, err = mongo.MongoDBClient.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("findOrCreateUser: reload: %w", err)
	}
	return user, nil
}
