package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rl1809/repair-market/internal/port"
)

const (
	sandboxSessionURL = "https://sandbox.sslcommerz.com/gwprocess/v4/api.php"
	liveSessionURL    = "https://securepay.sslcommerz.com/gwprocess/v4/api.php"

	sessionTimeout = 10 * time.Second
)

// SSLCommerzClient creates hosted payment sessions. The gateway is a
// black box to the rest of the system: it either yields a redirect URL
// or fails.
type SSLCommerzClient struct {
	httpClient *http.Client
	storeID    string
	storePass  string
	sessionURL string
}

func NewSSLCommerzClient(storeID, storePass string, sandbox bool) *SSLCommerzClient {
	sessionURL := liveSessionURL
	if sandbox {
		sessionURL = sandboxSessionURL
	}
	return &SSLCommerzClient{
		httpClient: &http.Client{Timeout: sessionTimeout},
		storeID:    storeID,
		storePass:  storePass,
		sessionURL: sessionURL,
	}
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

func (c *SSLCommerzClient) CreateSession(ctx context.Context, req port.SessionRequest) (string, error) {
	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePass)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TranID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("emi_option", "0")
	form.Set("cus_id", req.CustomerID)
	form.Set("shipping_method", "NO")
	form.Set("num_of_item", "1")
	form.Set("product_name", req.ProductName)
	form.Set("product_category", "general")
	form.Set("product_profile", "general")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create session: unexpected status %d", resp.StatusCode)
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if out.Status != "SUCCESS" || out.GatewayPageURL == "" {
		return "", fmt.Errorf("session rejected: %s", out.FailedReason)
	}

	return out.GatewayPageURL, nil
}
