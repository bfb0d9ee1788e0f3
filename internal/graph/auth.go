package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/oauth2"
)

const loginAuthority = "https://login.microsoftonline.com"

// graphScopes covers reading chats and sending chat messages, plus
// offline_access so the cached token can be refreshed without a new sign-in.
var graphScopes = []string{"offline_access", "Chat.Read", "ChatMessage.Send"}

func endpointFor(tenantID string) oauth2.Endpoint {
	base := loginAuthority + "/" + tenantID
	return oauth2.Endpoint{
		AuthURL:       base + "/oauth2/v2.0/authorize",
		TokenURL:      base + "/oauth2/v2.0/token",
		DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
	}
}

// authenticate returns an HTTP client that attaches bearer tokens to every
// request. A cached token is reused when present; otherwise the device code
// flow runs and the resulting token is cached for the next start.
func (c *Client) authenticate(ctx context.Context) (*http.Client, error) {
	if c.clientID == "" {
		return nil, fmt.Errorf("graph client id not set")
	}
	cfg := &oauth2.Config{
		ClientID: c.clientID,
		Endpoint: endpointFor(c.tenantID),
		Scopes:   graphScopes,
	}

	tok, err := readToken(c.tokenFile)
	if err != nil {
		slog.Info("Graph login required; starting device code flow", "token_file", c.tokenFile)
		tok, err = c.loginDeviceFlow(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := saveToken(c.tokenFile, tok); err != nil {
			return nil, fmt.Errorf("failed to cache token: %w", err)
		}
	}
	return oauth2.NewClient(ctx, cfg.TokenSource(ctx, tok)), nil
}

// loginDeviceFlow walks the user through the OAuth device code flow,
// printing the verification URL and user code and rendering the sign-in link
// as a terminal QR code.
func (c *Client) loginDeviceFlow(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start device authorization: %w", err)
	}

	// Determine output writer for the QR code and instructions
	writer := io.Writer(os.Stdout)
	if c.qrPath != "" {
		f, ferr := os.Create(c.qrPath)
		if ferr != nil {
			slog.Error("Failed to create QR file", "error", ferr)
			return nil, fmt.Errorf("failed to create QR file: %w", ferr)
		}
		defer f.Close()
		writer = f
	}

	fmt.Fprintf(writer, "To sign in, open %s and enter the code %s\n", da.VerificationURI, da.UserCode)
	link := da.VerificationURIComplete
	if link == "" {
		link = da.VerificationURI
	}
	qrterminal.GenerateHalfBlock(link, qrterminal.L, writer)

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device token exchange failed: %w", err)
	}
	slog.Info("Graph sign-in complete")
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}
