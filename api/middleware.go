package api

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/identity"
	"github.com/nagarsathi/civic-issues-api/models"
)

// Auth verifies identity-provider session tokens and resolves them to
// application users, provisioning a user record on first sight
type Auth struct {
	Users     databases.UserDatabase
	Identity  *identity.Client
	publicKey *rsa.PublicKey
}

var authenticator auth.Authenticator
var cache store.Cache

// Setup parses the identity provider's session verification key and wires
// the cached bearer strategy so each token is verified once per cache TTL
func (a *Auth) Setup(conf *config.Config) error {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(conf.ClerkJWTPublicKey))
	if err != nil {
		return fmt.Errorf("failed to parse session public key: %w", err)
	}
	a.publicKey = key

	authenticator = auth.New()
	cache = store.NewFIFO(context.Background(), time.Hour)
	tokenStrategy := bearer.New(a.authenticate, cache)
	authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
	return nil
}

// authenticate verifies a bearer session token and maps its subject to an
// application user. Unknown subjects are provisioned from the identity
// provider with the default role.
func (a *Auth) authenticate(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to verify session token: %w", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	user, err := a.Users.FindOne(ctx, bson.M{"clerkUserId": subject})
	if err == mongo.ErrNoDocuments {
		user, err = a.provisionUser(ctx, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	extensions := map[string][]string{"role": {user.Role}}
	return auth.NewDefaultUser(user.Name, user.ID.Hex(), nil, extensions), nil
}

// provisionUser creates the local record for a subject seen for the first
// time, pulling profile details from the identity provider
func (a *Auth) provisionUser(ctx context.Context, subject string) (*models.User, error) {
	profile, err := a.Identity.GetUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:          primitive.NewObjectID(),
		ClerkUserID: subject,
		Email:       profile.PrimaryEmail(),
		Name:        profile.FullName(),
		Avatar:      profile.ImageURL,
		Role:        models.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := a.Users.InsertOne(ctx, user); err != nil {
		return nil, err
	}
	zap.S().Infow("provisioned new user", "user", user.ID.Hex())
	return user, nil
}

// Middleware rejects requests without a valid session token and attaches
// the resolved user to the request context
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info, err := authenticator.Authenticate(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			config.ErrorStatus("unauthorized", http.StatusUnauthorized, w, err)
			return
		}
		authUser, err := authUserFromInfo(info)
		if err != nil {
			config.ErrorStatus("unauthorized", http.StatusUnauthorized, w, err)
			return
		}
		zap.S().Debugf("user %s authenticated", info.UserName())
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), authUser)))
	})
}

// OptionalMiddleware attaches the user when a valid token is present but
// lets anonymous requests through untouched
func (a *Auth) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) != "" {
			if info, err := authenticator.Authenticate(r); err == nil {
				if authUser, err := authUserFromInfo(info); err == nil {
					r = r.WithContext(WithUser(r.Context(), authUser))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates a route on the admin role. It must run inside
// Middleware so the user is already on the context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			config.ErrorStatus("admin access required", http.StatusForbidden, w,
				fmt.Errorf("user %q lacks admin role", user.ID.Hex()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authUserFromInfo(info auth.Info) (models.AuthUser, error) {
	id, err := primitive.ObjectIDFromHex(info.ID())
	if err != nil {
		return models.AuthUser{}, fmt.Errorf("malformed user id in session: %w", err)
	}
	role := models.RoleUser
	if roles := info.Extensions()["role"]; len(roles) > 0 {
		role = roles[0]
	}
	return models.AuthUser{ID: id, Name: info.UserName(), Role: role}, nil
}
