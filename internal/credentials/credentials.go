// Package credentials implements the credential provider interface the Auth
// Manager consumes (spec §6: "ClientId(appName), Secret(appName) where
// appName = \"service\""). The provider itself is an external collaborator
// per spec §1 ("the credential provider that supplies client id/secret");
// this package offers two concrete implementations behind the same
// interface, the way the original's Providers().DefaultValue() let the
// surrounding application plug in whichever one it configured.
package credentials

import (
	"context"
	"errors"

	"golang.org/x/oauth2/clientcredentials"
)

// Provider supplies the client id/secret pair the Auth Manager logs in
// with. appName is always "service" for this daemon (spec §6).
type Provider interface {
	ClientID(ctx context.Context, appName string) (string, error)
	Secret(ctx context.Context, appName string) (string, error)
}

// Static returns credentials fixed at process start, e.g. from environment
// variables loaded by internal/config. This is the default provider: most
// deployments simply inject SCHEDULER_CLIENT_ID/SCHEDULER_CLIENT_SECRET
// alongside the database DSN.
type Static struct {
	ID          string
	SecretValue string
}

func NewStatic(id, secret string) *Static {
	return &Static{ID: id, SecretValue: secret}
}

func (s *Static) ClientID(_ context.Context, _ string) (string, error) {
	if s.ID == "" {
		return "", ErrNotConfigured
	}
	return s.ID, nil
}

func (s *Static) Secret(_ context.Context, _ string) (string, error) {
	if s.SecretValue == "" {
		return "", ErrNotConfigured
	}
	return s.SecretValue, nil
}

// ErrNotConfigured is returned when a provider has no value to return.
var ErrNotConfigured = errors.New("credentials: not configured")

// OAuthBroker fetches a client id/secret pair from a secrets broker that
// itself sits behind an OAuth2 client-credentials grant (e.g. a Vault or
// internal secrets-service token exchange). The broker's own response body
// is expected to carry the downstream client id/secret as custom token
// extras; the extra field names are configurable (idField/secField) so this
// package stays broker-agnostic.
type OAuthBroker struct {
	cfg      clientcredentials.Config
	idField  string
	secField string
}

// NewOAuthBroker builds a provider that authenticates to tokenURL with the
// broker's own clientID/clientSecret, then reads the downstream
// client id/secret back out of the token response's extra fields named
// idField/secField.
func NewOAuthBroker(clientID, clientSecret, tokenURL, idField, secField string) *OAuthBroker {
	return &OAuthBroker{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
		idField:  idField,
		secField: secField,
	}
}

func (b *OAuthBroker) ClientID(ctx context.Context, _ string) (string, error) {
	tok, err := b.cfg.Token(ctx)
	if err != nil {
		return "", err
	}
	v := tok.Extra(b.idField)
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrNotConfigured
	}
	return s, nil
}

func (b *OAuthBroker) Secret(ctx context.Context, _ string) (string, error) {
	tok, err := b.cfg.Token(ctx)
	if err != nil {
		return "", err
	}
	v := tok.Extra(b.secField)
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrNotConfigured
	}
	return s, nil
}
