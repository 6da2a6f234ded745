package services

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	token *oauth2.Token
	err   error
	code  string
}

func (f *fakeExchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	cfg := oauth2.Config{ClientID: "client", Endpoint: oauth2.Endpoint{AuthURL: "https://issuer.example/auth"}}
	return cfg.AuthCodeURL(state, opts...)
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	f.code = code
	return f.token, f.err
}

func tokenWithID(raw string) *oauth2.Token {
	return (&oauth2.Token{AccessToken: "access"}).WithExtra(map[string]interface{}{"id_token": raw})
}

func testProvider(ex codeExchanger, claims idTokenClaims, verifyErr error) *OIDCProvider {
	return &OIDCProvider{
		provider: ProviderGoogle,
		oauth:    ex,
		verify: func(ctx context.Context, raw string) (idTokenClaims, error) {
			return claims, verifyErr
		},
	}
}

func TestOIDCProvider_AuthCodeURLCarriesStateAndNonce(t *testing.T) {
	p := testProvider(&fakeExchanger{}, idTokenClaims{}, nil)
	u, err := url.Parse(p.AuthCodeURL("state-1", "nonce-1"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" || q.Get("nonce") != "nonce-1" {
		t.Fatalf("unexpected auth url query: %v", q)
	}
}

func TestOIDCProvider_ExchangeAndVerify(t *testing.T) {
	claims := idTokenClaims{
		Nonce: "n", Subject: "sub", Email: "a@example.com", EmailVerified: true,
		Name: "Ana", Picture: "https://img/ana.jpg",
	}
	ex := &fakeExchanger{token: tokenWithID("raw")}
	got, err := testProvider(ex, claims, nil).ExchangeAndVerify(context.Background(), "code-1", "n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.code != "code-1" {
		t.Fatalf("code not exchanged: %q", ex.code)
	}
	want := IdentityClaims{Provider: ProviderGoogle, Subject: "sub", Email: "a@example.com", EmailVerified: true, Name: "Ana", Picture: "https://img/ana.jpg"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestOIDCProvider_ExchangeErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		ex        *fakeExchanger
		claims    idTokenClaims
		verifyErr error
		want      error
	}{
		{"exchange fails", &fakeExchanger{err: boom}, idTokenClaims{}, nil, boom},
		{"no id token", &fakeExchanger{token: &oauth2.Token{AccessToken: "a"}}, idTokenClaims{}, nil, ErrMissingIDToken},
		{"verify fails", &fakeExchanger{token: tokenWithID("raw")}, idTokenClaims{}, boom, boom},
		{"nonce mismatch", &fakeExchanger{token: tokenWithID("raw")}, idTokenClaims{Nonce: "other"}, nil, ErrNonceMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testProvider(tt.ex, tt.claims, tt.verifyErr).ExchangeAndVerify(context.Background(), "c", "n")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
