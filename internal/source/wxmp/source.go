package wxmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"mp_harvester/internal/domain"
)

const (
	DefaultBaseURL   = "https://mp.weixin.qq.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

	maxContentBytes = 20 * 1024 * 1024

	// invalidLinkMarker marks links of deleted or expired articles.
	invalidLinkMarker = "tempkey="
)

// Upstream return codes that mean the session is gone.
var sessionCodes = map[int]bool{
	200003: true, // invalid session
	200040: true, // invalid csrf token
}

// freqControlCode is returned when the account is being throttled.
const freqControlCode = 200013

var tokenPattern = regexp.MustCompile(`token=(\d+)`)

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Cookies   map[string]string
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

// Client talks to the publisher platform using a logged-in browser session.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cookies    map[string]string
	userAgent  string
	location   *time.Location
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// New creates a client. The session token is acquired lazily on first use.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		cookies:   cfg.Cookies,
		userAgent: cfg.UserAgent,
		location:  cfg.Location,
		logger:    logger.With("client", "wxmp"),
	}
}

// LoadCookies reads session cookies from a JSON file. Accepted shapes are
// {"cookies": {...}}, the browser export {"请求 Cookie": {...}}, or a flat map.
func LoadCookies(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies file: %w", err)
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse cookies file: %w", err)
	}

	for _, key := range []string{"cookies", "请求 Cookie"} {
		if raw, ok := wrapped[key]; ok {
			var cookies map[string]string
			if err := json.Unmarshal(raw, &cookies); err != nil {
				return nil, fmt.Errorf("parse %q: %w", key, err)
			}
			return cookies, nil
		}
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse cookies file: %w", err)
	}
	return flat, nil
}

// Authenticate fetches a session token from the home page redirect.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}
	c.token = token
	c.logger.Info("session token acquired")
	return nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	token, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	if len(c.cookies) == 0 {
		return "", fmt.Errorf("%w: no session cookies configured", domain.ErrAuth)
	}

	resp, err := c.do(ctx, c.baseURL+"/", true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if m := tokenPattern.FindStringSubmatch(resp.Request.URL.String()); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: no token in redirect url", domain.ErrAuth)
}

// ListPage returns one page of a source's article listing, newest first.
func (c *Client) ListPage(ctx context.Context, sourceID string, offset, count int) ([]domain.ListingItem, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, err
	}

	params := c.baseParams(token, offset, count)
	params.Set("action", "list_ex")
	params.Set("query", "")
	params.Set("fakeid", sourceID)
	params.Set("type", "9")

	var resp listResponse
	if err := c.getJSON(ctx, "/cgi-bin/appmsg", params, &resp); err != nil {
		return nil, err
	}
	if err := checkBaseResp(resp.BaseResp); err != nil {
		return nil, err
	}

	return c.transform(resp.AppMsgList), nil
}

// IsValidContentLink reports whether link points at a live article.
func (c *Client) IsValidContentLink(link string) bool {
	return link != "" && !strings.Contains(link, invalidLinkMarker)
}

// FetchContent downloads an article page. Article pages are public, so no
// session cookies are sent.
func (c *Client) FetchContent(ctx context.Context, link string) ([]byte, error) {
	resp, err := c.do(ctx, link, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status: %d", domain.ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrTransport, err)
	}
	return body, nil
}

// SearchAccount looks up an account by name and returns the best match.
func (c *Client) SearchAccount(ctx context.Context, name string) (domain.Account, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return domain.Account{}, err
	}

	params := c.baseParams(token, 0, 5)
	params.Set("action", "search_biz")
	params.Set("query", name)

	var resp searchResponse
	if err := c.getJSON(ctx, "/cgi-bin/searchbiz", params, &resp); err != nil {
		return domain.Account{}, err
	}
	if err := checkBaseResp(resp.BaseResp); err != nil {
		return domain.Account{}, err
	}
	if len(resp.List) == 0 {
		return domain.Account{}, fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}

	return domain.Account{ID: resp.List[0].FakeID, Name: resp.List[0].Nickname}, nil
}

func (c *Client) baseParams(token string, begin, count int) url.Values {
	params := url.Values{}
	params.Set("token", token)
	params.Set("begin", strconv.Itoa(begin))
	params.Set("count", strconv.Itoa(count))
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")
	return params
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.do(ctx, c.baseURL+path+"?"+params.Encode(), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status: %d", domain.ErrTransport, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrValidation, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, rawURL string, withSession bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if withSession {
		req.Header.Set("Referer", c.baseURL+"/")
		for name, value := range c.cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute request: %w", domain.ErrTransport, err)
	}
	return resp, nil
}

func checkBaseResp(br baseResp) error {
	switch {
	case br.Ret == 0:
		return nil
	case sessionCodes[br.Ret]:
		return fmt.Errorf("%w: ret=%d %s", domain.ErrAuth, br.Ret, br.ErrMsg)
	case br.Ret == freqControlCode:
		return fmt.Errorf("%w: rate limited upstream: %s", domain.ErrTransport, br.ErrMsg)
	default:
		return fmt.Errorf("%w: ret=%d %s", domain.ErrValidation, br.Ret, br.ErrMsg)
	}
}

func (c *Client) transform(items []articleItem) []domain.ListingItem {
	out := make([]domain.ListingItem, 0, len(items))
	for _, it := range items {
		id := it.AID
		if id == "" {
			id = fmt.Sprintf("%d_%d", it.AppMsgID, it.ItemIdx)
		}
		out = append(out, domain.ListingItem{
			ID:         id,
			Title:      it.Title,
			ContentURL: it.Link,
			CreatedAt:  time.Unix(it.CreateTime, 0).In(c.location),
			Digest:     it.Digest,
			Tags:       it.TagIDs,
		})
	}
	return out
}
