package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guildworks/membergate/internal/pkg/env"
)

const (
	defaultAuthorizeURL = "https://discord.com/oauth2/authorize"
	defaultTokenURL     = "https://discord.com/api/oauth2/token"
	defaultAPIBaseURL   = "https://discord.com/api/v10"

	// Discord error code for "Unknown Member".
	codeUnknownMember = 10007
)

// ErrMemberNotFound reports that the target identity has not joined the
// guild. Callers must not retry this; the user has to go through the join
// flow first.
var ErrMemberNotFound = errors.New("discord: member not found in guild")

// APIError is a non-2xx response from the Discord API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error: status=%d code=%d message=%s", e.Status, e.Code, e.Message)
}

// Temporary reports whether the failure is worth retrying.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client talks to the Discord API with a bot token for guild management and
// client credentials for the user-facing OAuth join flow.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BotToken     string
	GuildID      string

	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string

	HTTPClient *http.Client
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type Identity struct {
	UserID   string
	Username string
	Email    string
}

func NewClientFromEnv() *Client {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	redirectURI := strings.TrimSpace(env.GetEnv("DISCORD_REDIRECT_URI", ""))
	if redirectURI == "" && base != "" {
		redirectURI = base + "/join/discord/callback"
	}

	return &Client{
		ClientID:     strings.TrimSpace(env.GetEnv("DISCORD_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("DISCORD_CLIENT_SECRET", "")),
		RedirectURI:  redirectURI,
		BotToken:     strings.TrimSpace(env.GetEnv("DISCORD_BOT_TOKEN", "")),
		GuildID:      strings.TrimSpace(env.GetEnv("DISCORD_GUILD_ID", "")),
		AuthorizeURL: strings.TrimSpace(env.GetEnv("DISCORD_AUTHORIZE_URL", defaultAuthorizeURL)),
		TokenURL:     strings.TrimSpace(env.GetEnv("DISCORD_TOKEN_URL", defaultTokenURL)),
		APIBaseURL:   strings.TrimSpace(env.GetEnv("DISCORD_API_BASE_URL", defaultAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// AuthorizeURLWithState builds the OAuth authorize URL for the join flow.
// guilds.join is required so the portal can add the user to the guild with
// the token returned by the exchange.
func (c *Client) AuthorizeURLWithState(state string) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" {
		return "", errors.New("DISCORD_CLIENT_ID is not configured")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return "", errors.New("DISCORD_REDIRECT_URI is not configured")
	}
	u, err := url.Parse(c.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid DISCORD_AUTHORIZE_URL: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("scope", "identify guilds.join")
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeCode swaps an OAuth authorization code for a user token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, errors.New("DISCORD_CLIENT_ID/DISCORD_CLIENT_SECRET are not configured")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return nil, errors.New("DISCORD_REDIRECT_URI is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("oauth code is required")
	}

	form := url.Values{}
	form.Set("code", strings.TrimSpace(code))
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("redirect_uri", c.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discord token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out TokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, errors.New("discord token exchange returned empty access_token")
	}
	return &out, nil
}

// GetIdentity resolves the user behind an OAuth access token.
func (c *Client) GetIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errors.New("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.APIBaseURL, "/")+"/users/@me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discord identity request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("discord identity response missing user id")
	}
	return &Identity{
		UserID:   strings.TrimSpace(raw.ID),
		Username: strings.TrimSpace(raw.Username),
		Email:    strings.TrimSpace(raw.Email),
	}, nil
}

// MemberHasRole reports whether the guild member currently holds the role.
// Returns ErrMemberNotFound when the identity has not joined the guild.
func (c *Client) MemberHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	if err := c.requireBotConfig(); err != nil {
		return false, err
	}

	path := fmt.Sprintf("/guilds/%s/members/%s", c.GuildID, url.PathEscape(userID))
	req, err := c.botRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return false, ErrMemberNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, newAPIError(resp.StatusCode, body)
	}

	var raw struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, err
	}
	for _, r := range raw.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

// AddMemberRole grants the role. Discord treats a grant of an already-held
// role as success, so the call is idempotent at the boundary.
func (c *Client) AddMemberRole(ctx context.Context, userID, roleID string) error {
	return c.mutateMemberRole(ctx, http.MethodPut, userID, roleID)
}

// RemoveMemberRole revokes the role. Removing a role the member does not
// hold is also treated as success by the API.
func (c *Client) RemoveMemberRole(ctx context.Context, userID, roleID string) error {
	return c.mutateMemberRole(ctx, http.MethodDelete, userID, roleID)
}

func (c *Client) mutateMemberRole(ctx context.Context, method, userID, roleID string) error {
	if err := c.requireBotConfig(); err != nil {
		return err
	}
	if strings.TrimSpace(roleID) == "" {
		return errors.New("role id is required")
	}

	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.GuildID, url.PathEscape(userID), url.PathEscape(roleID))
	req, err := c.botRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrMemberNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, body)
	}
	return nil
}

// AddGuildMember adds the user to the guild using their OAuth access token,
// optionally with roles applied in the same call. Returns false when the
// user was already a member (the roles array is then NOT applied by the
// provider, which is why callers follow up through the role actuator).
func (c *Client) AddGuildMember(ctx context.Context, userID, accessToken string, roleIDs []string) (bool, error) {
	if err := c.requireBotConfig(); err != nil {
		return false, err
	}
	if strings.TrimSpace(accessToken) == "" {
		return false, errors.New("access token is required")
	}

	payload := map[string]interface{}{
		"access_token": accessToken,
	}
	if len(roleIDs) > 0 {
		payload["roles"] = roleIDs
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	path := fmt.Sprintf("/guilds/%s/members/%s", c.GuildID, url.PathEscape(userID))
	req, err := c.botRequest(ctx, http.MethodPut, path, bytes.NewReader(encoded))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusNoContent:
		// Already a member.
		return false, nil
	}
	return false, newAPIError(resp.StatusCode, body)
}

func (c *Client) requireBotConfig() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return errors.New("DISCORD_BOT_TOKEN is not configured")
	}
	if strings.TrimSpace(c.GuildID) == "" {
		return errors.New("DISCORD_GUILD_ID is not configured")
	}
	return nil
}

func (c *Client) botRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.APIBaseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.BotToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var raw struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		apiErr.Code = raw.Code
		apiErr.Message = raw.Message
	}
	if apiErr.Code == codeUnknownMember {
		apiErr.Message = "unknown member"
	}
	return apiErr
}
