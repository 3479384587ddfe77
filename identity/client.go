// Package identity talks to the hosted identity provider's backend API to
// fetch user profiles for provisioning.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.clerk.com"

// User is the subset of the provider's user object the application cares
// about
type User struct {
	ID             string         `json:"id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	ImageURL       string         `json:"image_url"`
	EmailAddresses []EmailAddress `json:"email_addresses"`
}

// EmailAddress is one of the addresses attached to a provider user
type EmailAddress struct {
	EmailAddress string `json:"email_address"`
}

// FullName joins the name parts, tolerating either being empty
func (u *User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// PrimaryEmail returns the first address on the account or empty
func (u *User) PrimaryEmail() string {
	if len(u.EmailAddresses) == 0 {
		return ""
	}
	return u.EmailAddresses[0].EmailAddress
}

// Client is an authenticated client for the provider's backend API
type Client struct {
	BaseURL    string
	secretKey  string
	httpClient *http.Client
}

// New returns a client authenticated with the given backend secret key.
// Pass a nil httpClient to use a default with a 10s timeout.
func New(secretKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

// GetUser fetches a user profile by the provider's user id
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	url := fmt.Sprintf("%s/v1/users/%s", c.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity provider returned status %d for user %q", resp.StatusCode, id)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode identity provider response: %w", err)
	}
	return &user, nil
}
