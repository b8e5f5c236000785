// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// OAuth2Config describes a plain OAuth2 provider with a JSON userinfo endpoint.
type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	Scopes       []string
}

// GitHubConfig returns the configuration of the GitHub provider.
func GitHubConfig(clientID, clientSecret, redirectURL string) OAuth2Config {
	return OAuth2Config{
		Name:         "github",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     github.Endpoint,
		UserInfoURL:  "https://api.github.com/user",
		Scopes:       []string{"read:user", "user:email"},
	}
}

// OAuth2Provider reads the user from a userinfo endpoint after the code exchange.
type OAuth2Provider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
}

// NewOAuth2Provider builds a provider from config.
func NewOAuth2Provider(config OAuth2Config) *OAuth2Provider {
	return &OAuth2Provider{
		name: config.Name,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     config.Endpoint,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
		},
		userInfoURL: config.UserInfoURL,
	}
}

// Name implements [Provider].
func (provider *OAuth2Provider) Name() string { return provider.name }

// AuthCodeURL implements [Provider].
func (provider *OAuth2Provider) AuthCodeURL(state string) string {
	return provider.oauth.AuthCodeURL(state)
}

// userInfo accepts both the GitHub shape (id, login) and the OIDC shape (sub, preferred_username).
type userInfo struct {
	ID                json.Number `json:"id"`
	Sub               string      `json:"sub"`
	Login             string      `json:"login"`
	PreferredUsername string      `json:"preferred_username"`
	Email             string      `json:"email"`
	EmailVerified     bool        `json:"email_verified"`
	Name              string      `json:"name"`
}

// Exchange redeems code and fetches the userinfo document with the new token.
func (provider *OAuth2Provider) Exchange(ctx context.Context, code string) (*Claims, error) {
	token, err := provider.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("external_oauth2_exchange_failed: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("external_oauth2_userinfo_request_failed: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := provider.oauth.Client(ctx, token).Do(request)
	if err != nil {
		return nil, fmt.Errorf("external_oauth2_userinfo_failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external_oauth2_userinfo_status: %d", response.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(response.Body, 1<<20))
	decoder.UseNumber()

	var info userInfo
	if err := decoder.Decode(&info); err != nil {
		return nil, fmt.Errorf("external_oauth2_userinfo_decode_failed: %w", err)
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID.String()
	}
	if subject == "" {
		return nil, fmt.Errorf("external_oauth2_userinfo_missing_subject: %s", provider.name)
	}

	username := info.PreferredUsername
	if username == "" {
		username = info.Login
	}

	return &Claims{
		Provider:      provider.name,
		Subject:       subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Username:      username,
	}, nil
}
