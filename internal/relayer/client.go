package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"claimcode/internal/hmacauth"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Client calls a relayer service.
type Client struct {
	BaseURL string
	Signer  *hmacauth.Signer
	HTTP    *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Signer:  &hmacauth.Signer{Secret: secret},
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// RequestFunding asks the relayer to top up recipient. An empty key gets a
// random idempotency key.
func (c *Client) RequestFunding(ctx context.Context, recipient common.Address, key string) (FundResponse, error) {
	if key == "" {
		key = uuid.NewString()
	}
	body, err := json.Marshal(FundRequest{Address: recipient.Hex()})
	if err != nil {
		return FundResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/fund", bytes.NewReader(body))
	if err != nil {
		return FundResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerIdempotencyKey, key)
	if c.Signer != nil {
		c.Signer.SignRequest(req, body)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return FundResponse{}, fmt.Errorf("relayer request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return FundResponse{}, fmt.Errorf("relayer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return FundResponse{}, fmt.Errorf("relayer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out FundResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return FundResponse{}, fmt.Errorf("decode relayer response: %w", err)
	}
	if !common.IsHexAddress(out.Address) || common.HexToAddress(out.Address) != recipient {
		return FundResponse{}, fmt.Errorf("relayer funded %q, requested %s", out.Address, recipient.Hex())
	}
	return out, nil
}
