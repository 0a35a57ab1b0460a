package trademark

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"keywords/pkg/apiclient"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrQuotaExceeded is returned once the registry's daily allowance is used up
var ErrQuotaExceeded = errors.New("trademark lookup quota exceeded")

const (
	resultOK            = "00"
	resultQuotaExceeded = "22"
)

// Client queries the trademark registry name-match search
type Client struct {
	api       *apiclient.Client
	baseURL   string
	accessKey string
}

func New(baseURL, accessKey string, requestsPerMinute int) *Client {
	return &Client{
		api:       apiclient.New("trademark", requestsPerMinute),
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
	}
}

type searchResponse struct {
	XMLName xml.Name `xml:"response"`
	Header  struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	Body struct {
		Items struct {
			TotalSearchCount string `xml:"TotalSearchCount"`
		} `xml:"items"`
	} `xml:"body"`
}

// MatchCount returns how many live registrations match keyword exactly.
// Refused, expired, withdrawn, cancelled and abandoned marks are excluded.
func (c *Client) MatchCount(ctx context.Context, keyword string) (int64, error) {
	params := url.Values{}
	params.Set("trademarkNameMatch", keyword)
	params.Set("accessKey", c.accessKey)
	for _, excluded := range []string{"refused", "expiration", "withdrawal", "cancel", "abandonment"} {
		params.Set(excluded, "false")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trademarkNameMatchSearchInfo?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}

	body, err := c.api.Do(ctx, req)
	if err != nil {
		return 0, err
	}

	var resp searchResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("error parsing trademark response: %w", err)
	}

	switch resp.Header.ResultCode {
	case resultQuotaExceeded:
		log.Warn().Str("resultMsg", resp.Header.ResultMsg).Msg("Trademark lookup quota exceeded")
		return 0, ErrQuotaExceeded
	case resultOK, "":
	default:
		return 0, fmt.Errorf("trademark API error: %s - %s", resp.Header.ResultCode, resp.Header.ResultMsg)
	}

	count, err := strconv.ParseInt(strings.TrimSpace(resp.Body.Items.TotalSearchCount), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid TotalSearchCount %q: %w", resp.Body.Items.TotalSearchCount, err)
	}

	return count, nil
}

func (c *Client) Close() {
	c.api.Close()
}
