package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/HammerMeetNail/globenis/internal/config"
)

type Provider string

const (
	ProviderGoogle Provider = "google"
)

var (
	ErrMissingIDToken = errors.New("missing id_token in oauth response")
	ErrNonceMismatch  = errors.New("nonce mismatch")
)

// IdentityClaims is what a sign-in provider asserts about the account.
// Name and Picture seed the display name and photo of a new profile.
type IdentityClaims struct {
	Provider      Provider
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type OAuthProvider interface {
	Provider() Provider
	AuthCodeURL(state, nonce string) string
	ExchangeAndVerify(ctx context.Context, code, nonce string) (IdentityClaims, error)
}

type codeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCProvider runs the authorization-code flow against an OpenID issuer.
type OIDCProvider struct {
	provider Provider
	oauth    codeExchanger
	verify   func(ctx context.Context, raw string) (idTokenClaims, error)
}

// idTokenClaims is the verified subset of an ID token used here.
type idTokenClaims struct {
	Nonce         string `json:"nonce"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleProvider discovers the issuer configured for Google sign-in.
func NewGoogleProvider(ctx context.Context, cfg config.OAuthProviderConfig) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("client id and secret are required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" || strings.TrimSpace(cfg.IssuerURL) == "" {
		return nil, errors.New("redirect url and issuer url are required")
	}

	issuer, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc provider: %w", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     issuer.Endpoint(),
		Scopes:       cfg.Scopes,
	}
	verifier := issuer.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return newOIDCProvider(ProviderGoogle, oauthConfig, verifier), nil
}

func newOIDCProvider(provider Provider, exchanger codeExchanger, verifier idTokenVerifier) *OIDCProvider {
	return &OIDCProvider{
		provider: provider,
		oauth:    exchanger,
		verify: func(ctx context.Context, raw string) (idTokenClaims, error) {
			token, err := verifier.Verify(ctx, raw)
			if err != nil {
				return idTokenClaims{}, err
			}
			var claims idTokenClaims
			if err := token.Claims(&claims); err != nil {
				return idTokenClaims{}, fmt.Errorf("parsing id token claims: %w", err)
			}
			return claims, nil
		},
	}
}

func (p *OIDCProvider) Provider() Provider {
	return p.provider
}

func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

func (p *OIDCProvider) ExchangeAndVerify(ctx context.Context, code, nonce string) (IdentityClaims, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("exchanging oauth code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return IdentityClaims{}, ErrMissingIDToken
	}

	claims, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("verifying id token: %w", err)
	}
	if claims.Nonce != nonce {
		return IdentityClaims{}, ErrNonceMismatch
	}

	return IdentityClaims{
		Provider:      p.provider,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
