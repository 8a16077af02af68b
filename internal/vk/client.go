// Package vk is a minimal VK API client covering the two methods this bot
// needs: wall.get and groups.getById.
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when a group id or short name does not resolve.
var ErrNotFound = errors.New("vk: group not found")

const (
	defaultVersion = "5.131"
	apiBase        = "https://api.vk.com/method/"

	// VK allows 3 requests per second per user token.
	requestsPerSec = 3

	// groupNotFound is VK's "invalid group id" API error code.
	groupNotFound = 100
)

type Config struct {
	Token          string
	Version        string
	RequestTimeout time.Duration
}

type Client struct {
	token   string
	version string
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	v := cfg.Version
	if v == "" {
		v = defaultVersion
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:   cfg.Token,
		version: v,
		base:    apiBase,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		log:     log,
	}
}

// RecentPosts fetches the newest count posts from the group wall identified
// by sourceID. Promoted posts are filtered out here, so the result may be
// shorter than count.
func (c *Client) RecentPosts(ctx context.Context, sourceID int64, count int) ([]Post, error) {
	if count <= 0 {
		count = 4
	}
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(-sourceID, 10))
	params.Set("count", strconv.Itoa(count))

	var resp struct {
		Items []wallItem `json:"items"`
	}
	if err := c.call(ctx, "wall.get", params, &resp); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.MarkedAsAds != 0 {
			continue
		}
		posts = append(posts, it.toPost())
	}
	return posts, nil
}

// GroupInfo resolves a group by numeric id or short name.
func (c *Client) GroupInfo(ctx context.Context, query string) (Group, error) {
	params := url.Values{}
	params.Set("group_id", query)

	var resp []groupItem
	if err := c.call(ctx, "groups.getById", params, &resp); err != nil {
		return Group{}, err
	}
	if len(resp) == 0 {
		return Group{}, fmt.Errorf("group %q: %w", query, ErrNotFound)
	}
	g := resp[0]
	return Group{
		ID:     g.ID,
		Name:   g.Name,
		Domain: g.ScreenName,
		Closed: g.IsClosed != 0,
		Photo:  g.Photo200,
	}, nil
}

// call performs one API method call with rate limiting and exponential
// backoff on transient failures. API-level errors are not retried.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("access_token", c.token)
	params.Set("v", c.version)
	reqURL := c.base + method + "?" + params.Encode()

	backoff := retry.WithMaxRetries(4, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn().Err(err).Str("method", method).Msg("vk request failed, retrying")
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 == 5 {
			c.log.Warn().Int("status", resp.StatusCode).Str("method", method).Msg("vk server error, retrying")
			return retry.RetryableError(fmt.Errorf("vk: http %d", resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		var envelope struct {
			Response json.RawMessage `json:"response"`
			Error    *apiError       `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("vk: decode %s: %w", method, err)
		}
		if envelope.Error != nil {
			if envelope.Error.Code == groupNotFound {
				return fmt.Errorf("vk: %s: %w", envelope.Error.Message, ErrNotFound)
			}
			return fmt.Errorf("vk: %s: api error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
		}
		return json.Unmarshal(envelope.Response, out)
	})
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}
