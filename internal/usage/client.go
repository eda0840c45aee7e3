package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/logging"
)

// Tokens is a refreshed access/refresh token pair surfaced to the caller.
// Callers must persist it themselves; the oracle never writes state.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Info carries the raw quota numbers behind a successful query.
type Info struct {
	Total     int64
	Used      int64
	Remaining int64
}

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the usage oracle. It answers "how much quota has this
// credential consumed" and transparently refreshes an expired access token
// once before giving up.
type Client struct {
	cfg    config.OracleConfig
	http   Doer
	logger *logging.Logger
}

// NewClient creates a usage oracle from the endpoint configuration.
func NewClient(cfg config.OracleConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Client{
		cfg:    cfg,
		http:   NewBrowserClient(cfg.Timeout),
		logger: logger,
	}
}

// NewClientWithDoer creates a usage oracle with an injected HTTP client.
func NewClientWithDoer(cfg config.OracleConfig, doer Doer, logger *logging.Logger) *Client {
	c := NewClient(cfg, logger)
	c.http = doer
	return c
}

// QueryUsage returns the used-quota ratio for the credential, in [0, 1],
// or -1 when the query failed even after a refresh attempt. When the access
// token had to be refreshed, the new pair comes back in refreshed so the
// caller can persist it, even if the retried query still failed.
func (c *Client) QueryUsage(ctx context.Context, accessToken, refreshToken string) (float64, Info, *Tokens) {
	if accessToken != "" {
		if ratio, info, err := c.queryOnce(ctx, accessToken); err == nil {
			return ratio, info, nil
		}
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return -1, Info{}, nil
	}

	newAT, newRT, err := c.refresh(ctx, refreshToken)
	if err != nil || newAT == "" {
		return -1, Info{}, nil
	}
	if newRT == "" {
		newRT = refreshToken
	}
	refreshed := &Tokens{AccessToken: newAT, RefreshToken: newRT}

	ratio, info, err := c.queryOnce(ctx, newAT)
	if err != nil {
		// The refresh still succeeded; surface it so it is not lost.
		return -1, Info{}, refreshed
	}
	return ratio, info, refreshed
}

// usageResponse mirrors the usage endpoint payload. Absence of the usage
// key is a query failure, not zero usage.
type usageResponse struct {
	Usage *struct {
		Standard struct {
			TotalAllowance     int64 `json:"totalAllowance"`
			OrgTotalTokensUsed int64 `json:"orgTotalTokensUsed"`
		} `json:"standard"`
	} `json:"usage"`
}

func (c *Client) queryOnce(ctx context.Context, accessToken string) (float64, Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UsageURL, nil)
	if err != nil {
		return -1, Info{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return -1, Info{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return -1, Info{}, &statusError{code: resp.StatusCode}
	}

	var parsed usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return -1, Info{}, err
	}
	if parsed.Usage == nil {
		return -1, Info{}, &statusError{code: resp.StatusCode, missingUsage: true}
	}

	total := parsed.Usage.Standard.TotalAllowance
	used := parsed.Usage.Standard.OrgTotalTokensUsed
	info := Info{Total: total, Used: used, Remaining: total - used}

	if total <= 0 {
		return 0, info, nil
	}
	return float64(used) / float64(total), info, nil
}

// refreshResponse mirrors the identity-provider response. Status codes are
// not trusted; the caller validates that the fields are present.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RefreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", err
	}

	return strings.TrimSpace(parsed.AccessToken), strings.TrimSpace(parsed.RefreshToken), nil
}

type statusError struct {
	code         int
	missingUsage bool
}

func (e *statusError) Error() string {
	if e.missingUsage {
		return "usage payload missing usage key"
	}
	return fmt.Sprintf("usage query status %d", e.code)
}
