package shopping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"keywords/pkg/apiclient"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoCategory is returned when the top search result carries no category
var ErrNoCategory = errors.New("no category for product")

// Credentials is one client id / secret pair
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// UsageFunc reports how many lookups were made today
type UsageFunc func(ctx context.Context) (int64, error)

// Client queries the shopping search API
type Client struct {
	api     *apiclient.Client
	baseURL string

	primary         Credentials
	secondary       Credentials
	switchThreshold int64
	usage           UsageFunc
}

// New creates a shopping search client. Category lookups switch to the
// secondary credentials once usage reaches switchThreshold; a nil usage
// func or empty secondary pair always uses the primary one.
func New(baseURL string, primary, secondary Credentials, switchThreshold int64, usage UsageFunc, requestsPerMinute int) *Client {
	return &Client{
		api:             apiclient.New("shopping", requestsPerMinute),
		baseURL:         strings.TrimRight(baseURL, "/"),
		primary:         primary,
		secondary:       secondary,
		switchThreshold: switchThreshold,
		usage:           usage,
	}
}

type searchItem struct {
	Title     string `json:"title"`
	Category1 string `json:"category1"`
	Category2 string `json:"category2"`
	Category3 string `json:"category3"`
	Category4 string `json:"category4"`
}

type searchResponse struct {
	Total int64        `json:"total"`
	Items []searchItem `json:"items"`
}

func (c *Client) credentials(ctx context.Context) Credentials {
	if c.usage == nil || c.secondary.ClientID == "" {
		return c.primary
	}

	count, err := c.usage(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read usage count, using primary credentials")
		return c.primary
	}

	if count >= c.switchThreshold {
		return c.secondary
	}
	return c.primary
}

func (c *Client) search(ctx context.Context, query string, display int, creds Credentials) (*searchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("display", strconv.Itoa(display))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/search/shop.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-Naver-Client-Id", creds.ClientID)
	req.Header.Set("X-Naver-Client-Secret", creds.ClientSecret)

	body, err := c.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing search response: %w", err)
	}
	return &resp, nil
}

// LookupCategory returns the category path of the top search result for a product name
func (c *Client) LookupCategory(ctx context.Context, productName string) ([]string, error) {
	resp, err := c.search(ctx, productName, 10, c.credentials(ctx))
	if err != nil {
		return nil, err
	}

	if len(resp.Items) == 0 || resp.Items[0].Category1 == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoCategory, productName)
	}

	top := resp.Items[0]
	path := []string{top.Category1}
	for _, level := range []string{top.Category2, top.Category3, top.Category4} {
		if level != "" {
			path = append(path, level)
		}
	}

	return path, nil
}

// SellerCount returns the number of listings matching a keyword
func (c *Client) SellerCount(ctx context.Context, keyword string) (int64, error) {
	resp, err := c.search(ctx, keyword, 1, c.primary)
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (c *Client) Close() {
	c.api.Close()
}
