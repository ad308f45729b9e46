package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrPopupClosed marks a sign-in the user abandoned by closing the provider
// window. Callers show a gentle retry message instead of an error banner.
var ErrPopupClosed = errors.New("auth: sign-in window closed before completion")

// Identity is the signed-in user as the rest of the app sees it.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Client signs users in against the Supabase auth REST API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	AnonKey    string
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AnonKey:    anonKey,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		UserMetadata struct {
			FullName string `json:"full_name"`
			Name     string `json:"name"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// SignInWithPassword exchanges email/password for an identity.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Identity, error) {
	if email == "" || password == "" {
		return Identity{}, fmt.Errorf("auth: email and password required")
	}
	body := map[string]string{"email": email, "password": password}
	return c.tokenGrant(ctx, "password", body)
}

// SignInWithProviderToken exchanges an OAuth provider id token for an
// identity.
func (c *Client) SignInWithProviderToken(ctx context.Context, provider, idToken string) (Identity, error) {
	if provider == "" || idToken == "" {
		return Identity{}, fmt.Errorf("auth: provider and id token required")
	}
	body := map[string]string{"provider": provider, "id_token": idToken}
	return c.tokenGrant(ctx, "id_token", body)
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body map[string]string) (Identity, error) {
	if c.BaseURL == "" || c.AnonKey == "" {
		return Identity{}, fmt.Errorf("auth: supabase url and anon key required")
	}
	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/auth/v1/token?grant_type=%s", c.BaseURL, grantType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("apikey", c.AnonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Identity{}, fmt.Errorf("auth: sign-in failed: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Identity{}, fmt.Errorf("auth: decode response: %w", err)
	}
	if tr.User.ID == "" {
		return Identity{}, fmt.Errorf("auth: response missing user")
	}
	name := tr.User.UserMetadata.FullName
	if name == "" {
		name = tr.User.UserMetadata.Name
	}
	if name == "" {
		name = tr.User.Email
	}
	return Identity{UserID: tr.User.ID, DisplayName: name, Email: tr.User.Email}, nil
}
