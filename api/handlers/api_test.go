package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nagarsathi/civic-issues-api/api"
	"github.com/nagarsathi/civic-issues-api/config"
)

var a App

func newTestRouter(t *testing.T) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	a.Config = config.Config{ClerkJWTPublicKey: string(pemBytes)}
	a.auth = &api.Auth{}
	if err := a.auth.Setup(&a.Config); err != nil {
		t.Fatal(err)
	}
	a.hub = api.NewHub()
	a.Router = a.New()
}

func executeRequest(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	return rr
}

func checkResponseCode(t *testing.T, expected, actual int) {
	if expected != actual {
		t.Errorf("Expected response code %d. Got %d\n", expected, actual)
	}
}

func TestUnknownRoute(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("GET", "/asdf", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusNotFound, response.Code)
}

func TestHealthCheckRoute(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("GET", "/health", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusOK, response.Code)

	if !strings.Contains(response.Body.String(), "alive") {
		t.Errorf("Expected 'alive' in the reponse. Got '%s'", response.Body.String())
	}
}

func TestApp_CreateIssueUnauthorized(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("POST", "/api/v1/issues", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestApp_CreateIssueInvalidToken(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("POST", "/api/v1/issues", nil)
	req.Header.Add("Authorization", "Bearer asdfasdf")
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestApp_AdminRouteUnauthorized(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("GET", "/api/v1/admin/analytics", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestApp_PublicListingRouteIsRegistered(t *testing.T) {
	newTestRouter(t)
	req, _ := http.NewRequest("PATCH", "/api/v1/issues", nil)
	response := executeRequest(req)

	// wrong method on a known route, not an unknown route
	checkResponseCode(t, http.StatusMethodNotAllowed, response.Code)
}
