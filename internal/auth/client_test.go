package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignInWithPassword(t *testing.T) {
	var gotGrant, gotKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGrant = r.URL.Query().Get("grant_type")
		gotKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{
			"access_token": "jwt",
			"user": {"id": "u-1", "email": "agent@example.com",
				"user_metadata": {"full_name": "김설계"}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "anon-key")
	id, err := c.SignInWithPassword(context.Background(), "agent@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.UserID != "u-1" || id.DisplayName != "김설계" || id.Email != "agent@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if gotGrant != "password" || gotKey != "anon-key" {
		t.Fatalf("unexpected request grant=%q key=%q", gotGrant, gotKey)
	}
	if gotBody["email"] != "agent@example.com" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestSignIn_DisplayNameFallsBackToEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user": {"id": "u-2", "email": "no-name@example.com", "user_metadata": {}}}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "k").SignInWithProviderToken(context.Background(), "google", "tok")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.DisplayName != "no-name@example.com" {
		t.Fatalf("expected email fallback, got %q", id.DisplayName)
	}
}

func TestSignIn_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.SignInWithPassword(context.Background(), "a@b.c", "bad"); err == nil {
		t.Fatalf("expected error on rejected grant")
	}
	if _, err := c.SignInWithPassword(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error on blank credentials")
	}
	if _, err := NewClient("", "").SignInWithPassword(context.Background(), "a@b.c", "pw"); err == nil {
		t.Fatalf("expected error without configuration")
	}
}
