// Package auth provides the HTTP token source for the carrier identity
// endpoint.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HTTPTokenSource fetches client-credentials tokens from the carrier's
// identity endpoint.
type HTTPTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewHTTPTokenSource creates a token source for the given endpoint and
// client credentials.
func NewHTTPTokenSource(tokenURL, clientID, clientSecret string) *HTTPTokenSource {
	return &HTTPTokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// tokenResponse is the identity endpoint's reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FetchToken requests a fresh token for the tenant. The expiry comes from
// expires_in, cross-checked against the JWT exp claim when the token parses
// as a JWT; the earlier of the two wins.
func (s *HTTPTokenSource) FetchToken(ctx context.Context, tenant string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	if tenant != "" {
		form.Set("scope", tenant)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	if jwtExp, ok := jwtExpiry(tr.AccessToken); ok && jwtExp.Before(expiresAt) {
		expiresAt = jwtExp
	}
	return Token{AccessToken: tr.AccessToken, ExpiresAt: expiresAt}, nil
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. Expiry bookkeeping only; authorization is the carrier's job.
func jwtExpiry(tokenString string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
