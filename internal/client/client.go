// ABOUTME: HTTP client for the corp-gateway API used by corp-admin and integrations
// ABOUTME: Sends JSON requests with an optional admin bearer token and decodes API errors

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/corp-gateway/internal/api"
)

// defaultTimeout bounds a single request when no http.Client is supplied.
const defaultTimeout = 30 * time.Second

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.Status == http.StatusNotFound
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the admin bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns nil when the gateway answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// IssueChallenge requests a signing challenge for a wallet.
func (c *Client) IssueChallenge(ctx context.Context, req api.ChallengeRequest) (*api.ChallengeResponse, error) {
	var out api.ChallengeResponse
	if err := c.do(ctx, http.MethodPost, "/api/challenges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureGroup creates a group for a wallet that has none.
func (c *Client) EnsureGroup(ctx context.Context, req api.EnsureRequest) (*api.EnsureResponse, error) {
	var out api.EnsureResponse
	if err := c.do(ctx, http.MethodPost, "/api/groups", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Link submits a signed link request.
func (c *Client) Link(ctx context.Context, req api.LinkRequest) (*api.LinkResponse, error) {
	var out api.LinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/groups/link", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unlink submits a wallet's signed request to leave its group.
func (c *Client) Unlink(ctx context.Context, wallet string, req api.UnlinkRequest) (*api.RemoveResponse, error) {
	var out api.RemoveResponse
	if err := c.do(ctx, http.MethodPost, walletPath(wallet, "unlink"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupByWallet returns the group a wallet belongs to.
func (c *Client) GroupByWallet(ctx context.Context, wallet string) (*api.GroupResponse, error) {
	var out api.GroupResponse
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "group"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WalletsFor returns every wallet in the same group as wallet, or just
// wallet itself when it has no group.
func (c *Client) WalletsFor(ctx context.Context, wallet string) ([]api.Wallet, error) {
	var out api.WalletsResponse
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "wallets"), nil, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// GroupWallets lists a group's wallets, primary first.
func (c *Client) GroupWallets(ctx context.Context, groupID string) ([]api.Wallet, error) {
	var out api.WalletsResponse
	if err := c.do(ctx, http.MethodGet, groupPath(groupID, "wallets"), nil, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// GroupDisplayName returns the group's name and whether one is set.
func (c *Client) GroupDisplayName(ctx context.Context, groupID string) (string, bool, error) {
	var out api.NameResponse
	if err := c.do(ctx, http.MethodGet, groupPath(groupID, "display-name"), nil, &out); err != nil {
		return "", false, err
	}
	if out.Name == nil {
		return "", false, nil
	}
	return *out.Name, true, nil
}

// SetGroupDisplayName renames a group.
func (c *Client) SetGroupDisplayName(ctx context.Context, groupID, name string) error {
	return c.do(ctx, http.MethodPut, groupPath(groupID, "display-name"), api.DisplayNameRequest{Name: name}, nil)
}

// DisplayName returns the name shown for a wallet and whether one exists.
func (c *Client) DisplayName(ctx context.Context, wallet string) (string, bool, error) {
	var out api.NameResponse
	if err := c.do(ctx, http.MethodGet, walletPath(wallet, "display-name"), nil, &out); err != nil {
		return "", false, err
	}
	if out.Name == nil {
		return "", false, nil
	}
	return *out.Name, true, nil
}

// SetNickname sets or, with nil, clears a wallet's nickname.
func (c *Client) SetNickname(ctx context.Context, wallet string, nickname *string) error {
	return c.do(ctx, http.MethodPut, walletPath(wallet, "nickname"), api.NicknameRequest{Nickname: nickname}, nil)
}

// Audit returns a group's audit trail. Requires an admin token.
func (c *Client) Audit(ctx context.Context, groupID string, limit int) ([]api.AuditEvent, error) {
	path := groupPath(groupID, "audit")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.AuditResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// RemoveWallet removes a wallet without a signature. Requires an admin token.
func (c *Client) RemoveWallet(ctx context.Context, wallet string) (*api.RemoveResponse, error) {
	var out api.RemoveResponse
	if err := c.do(ctx, http.MethodDelete, "/api/wallets/"+url.PathEscape(wallet), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func walletPath(wallet, suffix string) string {
	return "/api/wallets/" + url.PathEscape(wallet) + "/" + suffix
}

func groupPath(groupID, suffix string) string {
	return "/api/groups/" + url.PathEscape(groupID) + "/" + suffix
}

// do sends body as JSON and decodes a successful response into out.
// Either may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts the API error body when there is one.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp api.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return &Error{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
		}
	}
	return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
