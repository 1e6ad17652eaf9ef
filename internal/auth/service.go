// Package auth turns the relay's service identity into short-lived bearer
// sessions for the remote storage API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/radif/driverelay/internal/metrics"
)

// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
)

// ErrAuthFailure is returned for every failed authorization: malformed key
// material, transport errors and issuer rejections alike.
var ErrAuthFailure = errors.New("authorization failed")

// Session is a bearer token bound to the scope it was issued for.
type Session struct {
	Scope Scope
	Token *oauth2.Token
}

// TokenSource returns a token source that always yields the session token.
func (s *Session) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(s.Token)
}

// ServiceAccount authorizes as a service principal using a signed JWT
// assertion (RFC 7523).
type ServiceAccount struct {
	email    string
	key      string
	tokenURL string
	client   *http.Client
	now      func() time.Time
}

// NewServiceAccount creates a ServiceAccount. privateKey may contain literal
// "\n" sequences, as it does when stored in a single-line env variable.
// An empty tokenURL selects DefaultTokenURL; a nil client selects http.DefaultClient.
func NewServiceAccount(email, privateKey, tokenURL string, client *http.Client) *ServiceAccount {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ServiceAccount{
		email:    email,
		key:      NormalizeKey(privateKey),
		tokenURL: tokenURL,
		client:   client,
		now:      time.Now,
	}
}

// NormalizeKey replaces escaped newlines with real line breaks.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// Authorize performs the token handshake for scope and returns a fresh session.
func (a *ServiceAccount) Authorize(ctx context.Context, scope Scope) (*Session, error) {
	tok, err := a.exchange(ctx, scope)
	if err != nil {
		metrics.ObserveTokenRequest(scope.Label(), metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	metrics.ObserveTokenRequest(scope.Label(), metrics.OutcomeSuccess)
	return &Session{Scope: scope, Token: tok}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *ServiceAccount) exchange(ctx context.Context, scope Scope) (*oauth2.Token, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("unsupported scope %q", scope)
	}

	assertion, err := a.signAssertion(scope)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token endpoint returned an empty access token")
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// signAssertion builds the RS256-signed JWT presented to the token endpoint.
func (a *ServiceAccount) signAssertion(scope Scope) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.key))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := a.now()
	claims := jwt.MapClaims{
		"iss":   a.email,
		"scope": string(scope),
		"aud":   a.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Keyless issues token-less sessions for backends that carry their own
// credentials, such as the S3 backend's static access keys.
type Keyless struct{}

// Authorize returns an empty session for scope.
func (Keyless) Authorize(_ context.Context, scope Scope) (*Session, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unsupported scope %q", ErrAuthFailure, scope)
	}
	return &Session{Scope: scope, Token: &oauth2.Token{}}, nil
}
