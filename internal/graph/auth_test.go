package graph

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := saveToken(path, want); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	got, err := readToken(path)
	if err != nil {
		t.Fatalf("readToken failed: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("token round trip mismatch: got %+v", got)
	}
	if !got.Expiry.Equal(want.Expiry) {
		t.Errorf("expiry mismatch: want %v, got %v", want.Expiry, got.Expiry)
	}
}

func TestReadTokenMissingFile(t *testing.T) {
	if _, err := readToken(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("reading a missing token file should fail so login can run")
	}
}

func TestEndpointForTenant(t *testing.T) {
	ep := endpointFor("contoso")
	if ep.AuthURL != "https://login.microsoftonline.com/contoso/oauth2/v2.0/authorize" {
		t.Errorf("unexpected auth URL: %s", ep.AuthURL)
	}
	if ep.TokenURL != "https://login.microsoftonline.com/contoso/oauth2/v2.0/token" {
		t.Errorf("unexpected token URL: %s", ep.TokenURL)
	}
	if ep.DeviceAuthURL != "https://login.microsoftonline.com/contoso/oauth2/v2.0/devicecode" {
		t.Errorf("unexpected device auth URL: %s", ep.DeviceAuthURL)
	}
}
