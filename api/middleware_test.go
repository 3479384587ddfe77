package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nagarsathi/civic-issues-api/config"
	"github.com/nagarsathi/civic-issues-api/databases"
	"github.com/nagarsathi/civic-issues-api/databases/mocks"
	"github.com/nagarsathi/civic-issues-api/models"
)

type MockDatabaseHelper struct {
	mock.Mock
}

// Client provides a mock function.
func (_m *MockDatabaseHelper) Client() databases.ClientHelper {
	ret := _m.Called()

	var r0 databases.ClientHelper
	if rf, ok := ret.Get(0).(func() databases.ClientHelper); ok {
		r0 = rf()
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(databases.ClientHelper)
		}
	}

	return r0
}

// Collection provides a mock function.
func (_m *MockDatabaseHelper) Collection(name string) databases.CollectionHelper {
	ret := _m.Called(name)

	var r0 databases.CollectionHelper
	if rf, ok := ret.Get(0).(func(string) databases.CollectionHelper); ok {
		r0 = rf(name)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(databases.CollectionHelper)
		}
	}

	return r0
}

func newSigningAuth(t *testing.T, users databases.UserDatabase) (*Auth, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	a := &Auth{Users: users}
	if err := a.Setup(&config.Config{ClerkJWTPublicKey: string(pemKey)}); err != nil {
		t.Fatal(err)
	}
	return a, key
}

func signSessionToken(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAuth_MiddlewareResolvesKnownUser(t *testing.T) {
	userID := primitive.NewObjectID()

	var db MockDatabaseHelper
	var conn mocks.CollectionHelper
	var singleResult mocks.SingleResultHelper

	singleResult.On("Decode", mock.AnythingOfType("**models.User")).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).ID = userID
		(*arg).ClerkUserID = "user_2abc"
		(*arg).Name = "Asha Rao"
		(*arg).Role = models.RoleAdmin
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(&singleResult)
	db.On("Collection", "users").Return(&conn)

	a, key := newSigningAuth(t, databases.NewUserDatabase(&db))

	var got models.AuthUser
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/issues/my-issues", nil)
	req.Header.Set("Authorization", "Bearer "+signSessionToken(t, key, "user_2abc"))
	rr := httptest.NewRecorder()

	a.Middleware(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ok)
	assert.Equal(t, userID, got.ID)
	assert.Equal(t, "Asha Rao", got.Name)
	assert.True(t, got.IsAdmin())
}

func TestAuth_MiddlewareRejectsGarbageToken(t *testing.T) {
	var db MockDatabaseHelper
	a, _ := newSigningAuth(t, databases.NewUserDatabase(&db))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	req := httptest.NewRequest("GET", "/api/v1/issues/my-issues", nil)
	req.Header.Set("Authorization", "Bearer not-a-session-token")
	rr := httptest.NewRecorder()

	a.Middleware(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_MiddlewareRejectsTokenSignedWithWrongKey(t *testing.T) {
	var db MockDatabaseHelper
	a, _ := newSigningAuth(t, databases.NewUserDatabase(&db))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	req := httptest.NewRequest("GET", "/api/v1/issues/my-issues", nil)
	req.Header.Set("Authorization", "Bearer "+signSessionToken(t, otherKey, "user_2abc"))
	rr := httptest.NewRecorder()

	a.Middleware(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_OptionalMiddlewarePassesAnonymous(t *testing.T) {
	var db MockDatabaseHelper
	a, _ := newSigningAuth(t, databases.NewUserDatabase(&db))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := UserFromContext(r.Context())
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/issues", nil)
	rr := httptest.NewRecorder()

	a.OptionalMiddleware(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAdmin_ForbidsRegularUser(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	})

	user := models.AuthUser{ID: primitive.NewObjectID(), Name: "Ravi", Role: models.RoleUser}
	req := httptest.NewRequest("GET", "/api/v1/admin/analytics", nil)
	req = req.WithContext(WithUser(req.Context(), user))
	rr := httptest.NewRecorder()

	RequireAdmin(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAdmin_AllowsAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	user := models.AuthUser{ID: primitive.NewObjectID(), Name: "Asha", Role: models.RoleAdmin}
	req := httptest.NewRequest("GET", "/api/v1/admin/analytics", nil)
	req = req.WithContext(WithUser(req.Context(), user))
	rr := httptest.NewRecorder()

	RequireAdmin(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
