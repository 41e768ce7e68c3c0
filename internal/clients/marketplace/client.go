// Package marketplace provides clients for the seller portal endpoints used by the
// rebalancer: warehouse quotas, transfer orders and the goods-return analytics report.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/restock/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL      = "https://seller-weekly-report.wildberries.ru"
	defaultAnalyticsURL = "https://seller-analytics-api.wildberries.ru"

	quotaPath        = "/ns/shifts/analytics-back/api/v1/quota"
	orderPath        = "/ns/shifts/analytics-back/api/v1/order"
	goodsReturnPath  = "/api/v1/analytics/goods-return"
	preflightPause   = 100 * time.Millisecond
	maxErrorBodySize = 500
)

// Config holds endpoint settings
type Config struct {
	BaseURL      string
	AnalyticsURL string
	APIKey       string
	Timeout      time.Duration
}

// Client talks to the seller portal. It holds no per-credential state and is safe for
// concurrent use.
type Client struct {
	baseURL      string
	analyticsURL string
	apiKey       string
	httpClient   *http.Client
	log          zerolog.Logger

	// preflight is the pause between the OPTIONS and GET quota calls
	preflight time.Duration
}

// NewClient creates a new marketplace client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:      cfg.BaseURL,
		analyticsURL: cfg.AnalyticsURL,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          log.With().Str("client", "marketplace").Logger(),
		preflight:    preflightPause,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.analyticsURL == "" {
		c.analyticsURL = defaultAnalyticsURL
	}
	if cfg.Timeout <= 0 {
		c.httpClient.Timeout = 30 * time.Second
	}
	return c
}

type quotaResponse struct {
	Data struct {
		Quota int `json:"quota"`
	} `json:"data"`
}

// FetchQuota returns the remaining quota of a warehouse in one direction.
// The portal expects a preflight OPTIONS call before the GET.
func (c *Client) FetchQuota(ctx context.Context, cred domain.Credential, warehouseID int, dir domain.Direction) (int, error) {
	params := url.Values{}
	params.Set("officeID", strconv.Itoa(warehouseID))
	params.Set("type", string(dir))
	endpoint := c.baseURL + quotaPath + "?" + params.Encode()

	status, _, err := c.do(ctx, http.MethodOptions, endpoint, nil, cred)
	if err != nil {
		return 0, fmt.Errorf("quota preflight failed: %w", err)
	}
	if !isSuccess(status) {
		return 0, fmt.Errorf("quota preflight for %d/%s: unexpected status %d", warehouseID, dir, status)
	}

	if c.preflight > 0 {
		t := time.NewTimer(c.preflight)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil, cred)
	if err != nil {
		return 0, fmt.Errorf("quota request failed: %w", err)
	}
	if !isSuccess(status) {
		return 0, fmt.Errorf("quota for %d/%s: unexpected status %d: %s", warehouseID, dir, status, truncate(body))
	}

	var resp quotaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode quota response: %w", err)
	}
	if resp.Data.Quota < 0 {
		return 0, nil
	}
	return resp.Data.Quota, nil
}

type orderLine struct {
	ChrtID int64 `json:"chrtID"`
	Count  int   `json:"count"`
}

type orderBody struct {
	Order struct {
		Src   int         `json:"src"`
		Dst   int         `json:"dst"`
		NmID  int         `json:"nmID"`
		Count []orderLine `json:"count"`
	} `json:"order"`
}

// SubmitOrder posts a transfer order and returns the response status.
// An error is returned only when no response was received.
func (c *Client) SubmitOrder(ctx context.Context, cred domain.Credential, req domain.TransferRequest) (int, error) {
	var body orderBody
	body.Order.Src = req.Source
	body.Order.Dst = req.Destination
	body.Order.NmID = req.ProductID
	body.Order.Count = make([]orderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		body.Order.Count = append(body.Order.Count, orderLine{ChrtID: l.SKU, Count: l.Quantity})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal order: %w", err)
	}

	status, resp, err := c.do(ctx, http.MethodPost, c.baseURL+orderPath, payload, cred)
	if err != nil && status == 0 {
		return 0, fmt.Errorf("order request failed: %w", err)
	}

	c.log.Debug().
		Int("status", status).
		Int("product_id", req.ProductID).
		Int("src", req.Source).
		Int("dst", req.Destination).
		Str("body", truncate(resp)).
		Msg("Order response")
	return status, nil
}

// GoodsReturn is one row of the goods-return analytics report
type GoodsReturn struct {
	ProductID   int    `json:"nmId" msgpack:"nm"`
	TechSize    string `json:"techSize" msgpack:"ts"`
	OrderDate   string `json:"orderDt" msgpack:"od"`
	DstOfficeID int    `json:"dstOfficeId" msgpack:"do"`
	DstAddress  string `json:"dstOfficeAddress" msgpack:"da"`
	Status      string `json:"status" msgpack:"st"`
	ReturnType  string `json:"returnType" msgpack:"rt"`
}

// Day returns the calendar day of the order date
func (g GoodsReturn) Day() string {
	if len(g.OrderDate) >= 10 {
		return g.OrderDate[:10]
	}
	return g.OrderDate
}

type goodsReturnResponse struct {
	Report []GoodsReturn `json:"report"`
}

// FetchGoodsReturns downloads the goods-return report for [from, to]
func (c *Client) FetchGoodsReturns(ctx context.Context, from, to time.Time) ([]GoodsReturn, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("analytics API key is not configured")
	}

	params := url.Values{}
	params.Set("dateFrom", from.Format("2006-01-02"))
	params.Set("dateTo", to.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.analyticsURL+goodsReturnPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("goods-return request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("goods-return report: status %d, body: %s", resp.StatusCode, truncate(body))
	}

	var out goodsReturnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode goods-return report: %w", err)
	}

	c.log.Info().Int("rows", len(out.Report)).Msg("Goods-return report fetched")
	return out.Report, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, cred domain.Credential) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cred.Token != "" {
		req.Header.Set("AuthorizeV3", cred.Token)
	}
	for name, value := range cred.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 204
}

func truncate(body []byte) string {
	s := string(body)
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize] + "..."
	}
	return s
}
