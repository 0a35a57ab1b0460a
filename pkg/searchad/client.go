package searchad

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"keywords/pkg/apiclient"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const keywordToolPath = "/keywordstool"

// RelatedKeyword is one related keyword with its monthly search volumes
type RelatedKeyword struct {
	Keyword      string
	PCVolume     int64
	MobileVolume int64
}

// Client queries the search advertising keyword tool
type Client struct {
	api        *apiclient.Client
	baseURL    string
	customerID string
	apiKey     string
	secretKey  string

	now func() time.Time
}

func New(baseURL, customerID, apiKey, secretKey string, requestsPerMinute int) *Client {
	return &Client{
		api:        apiclient.New("searchad", requestsPerMinute),
		baseURL:    strings.TrimRight(baseURL, "/"),
		customerID: customerID,
		apiKey:     apiKey,
		secretKey:  secretKey,
		now:        time.Now,
	}
}

// Sign returns the base64 HMAC-SHA256 of "<timestamp>.<method>.<path>"
func Sign(timestamp, method, path, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(timestamp + "." + method + "." + path))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// volume accepts both numbers and strings such as "< 10", which counts as 0
type volume int64

func (v *volume) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = volume(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") || s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid volume %q: %w", s, err)
	}
	*v = volume(n)
	return nil
}

type keywordToolResponse struct {
	KeywordList []struct {
		RelKeyword         string `json:"relKeyword"`
		MonthlyPcQcCnt     volume `json:"monthlyPcQcCnt"`
		MonthlyMobileQcCnt volume `json:"monthlyMobileQcCnt"`
	} `json:"keywordList"`
}

// RelatedKeywords returns keywords related to a seed keyword
func (c *Client) RelatedKeywords(ctx context.Context, seed string) ([]RelatedKeyword, error) {
	params := url.Values{}
	params.Set("hintKeywords", seed)
	params.Set("showDetail", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+keywordToolPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Customer", c.customerID)
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-Signature", Sign(timestamp, http.MethodGet, keywordToolPath, c.secretKey))

	body, err := c.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp keywordToolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing keyword tool response: %w", err)
	}

	out := make([]RelatedKeyword, 0, len(resp.KeywordList))
	for _, k := range resp.KeywordList {
		out = append(out, RelatedKeyword{
			Keyword:      k.RelKeyword,
			PCVolume:     int64(k.MonthlyPcQcCnt),
			MobileVolume: int64(k.MonthlyMobileQcCnt),
		})
	}
	return out, nil
}

func (c *Client) Close() {
	c.api.Close()
}
