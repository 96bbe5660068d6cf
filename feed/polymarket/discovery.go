package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/updown/feed"
	"github.com/rustyeddy/updown/window"
)

const (
	DefaultGammaURL   = "https://gamma-api.polymarket.com"
	DefaultSlugPrefix = "btc-updown-5m"
)

// Discovery finds the market of the current window on the Gamma API. Each
// 5-minute market has the slug <prefix>-<window start unix seconds>; its
// first CLOB token is the "Up" outcome, which is the id the feed tracks.
type Discovery struct {
	BaseURL    string
	SlugPrefix string
	HTTP       *http.Client
	Limiter    *rate.Limiter // optional
	Now        func() time.Time
}

func NewDiscovery(baseURL, slugPrefix string, perMinute int) *Discovery {
	d := &Discovery{
		BaseURL:    baseURL,
		SlugPrefix: slugPrefix,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
	if perMinute > 0 {
		d.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return d
}

func (d *Discovery) Slug(now time.Time) string {
	prefix := d.SlugPrefix
	if prefix == "" {
		prefix = DefaultSlugPrefix
	}
	return fmt.Sprintf("%s-%d", prefix, window.Start(now).Unix())
}

type gammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Closed       bool            `json:"closed"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
}

func (d *Discovery) ActiveMarket(ctx context.Context) (string, error) {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	base := d.BaseURL
	if base == "" {
		base = DefaultGammaURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/markets"
	q := u.Query()
	q.Set("slug", d.Slug(now()))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	httpClient := d.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", fmt.Errorf("gamma markets http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return "", fmt.Errorf("gamma markets: %w", err)
	}
	for _, m := range markets {
		if m.Closed {
			continue
		}
		ids, err := tokenIDs(m.ClobTokenIDs)
		if err != nil {
			return "", fmt.Errorf("gamma market %s: %w", m.Slug, err)
		}
		if len(ids) > 0 && ids[0] != "" {
			return ids[0], nil
		}
	}
	return "", fmt.Errorf("%w: slug %s", feed.ErrNoActiveMarket, q.Get("slug"))
}

// tokenIDs accepts both a JSON array and the JSON-encoded string form Gamma
// returns.
func tokenIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
