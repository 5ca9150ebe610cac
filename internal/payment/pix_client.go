package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// PixClient talks to a PIX dynamic-charge API (gerencianet-style
// v2/cob endpoints).  Authentication uses the bearer access token
// from config; the merchant key is the receiving PIX key.
type PixClient struct {
	baseURL     string
	accessToken string
	merchantKey string
	client      *http.Client
}

// NewPixClient returns a PixClient for the given API base URL.
func NewPixClient(baseURL, accessToken, merchantKey string, timeout time.Duration) *PixClient {
	return &PixClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		merchantKey: merchantKey,
		client:      &http.Client{Timeout: timeout},
	}
}

// pixCharge mirrors the provider's charge creation body.
type pixCharge struct {
	Calendario struct {
		Expiracao int64 `json:"expiracao"` // seconds until the charge lapses
	} `json:"calendario"`
	Valor struct {
		Original string `json:"original"` // decimal amount, e.g. "34.90"
	} `json:"valor"`
	Chave          string          `json:"chave"`
	InfoAdicionais []MetadataEntry `json:"infoAdicionais,omitempty"`
}

// CreateCharge registers a dynamic PIX charge under the given txid
// and returns the QR payload the buyer pays with.
func (c *PixClient) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var body pixCharge
	body.Calendario.Expiracao = int64(req.ExpiresIn / time.Second)
	body.Valor.Original = centsToDecimal(req.AmountCents)
	body.Chave = c.merchantKey
	body.InfoAdicionais = req.Metadata

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Op: "encode charge", Err: err}
	}
	u := fmt.Sprintf("%s/v2/cob/%s", c.baseURL, req.TxID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Op: "create charge", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Op: "create charge", Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	var out struct {
		QRCode string `json:"qrCode"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProviderError{Op: "decode response", Err: err}
	}
	return &ChargeResult{TxID: req.TxID, QRCode: out.QRCode, RawPayload: raw}, nil
}

// centsToDecimal renders an amount in cents as the "123.45" form the
// provider expects.
func centsToDecimal(cents uint64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// FeeClient asks the logistics collaborator for the delivery fee to a
// destination.
type FeeClient struct {
	baseURL string
	client  *http.Client
}

// NewFeeClient returns a FeeClient for the given base URL.
func NewFeeClient(baseURL string, timeout time.Duration) *FeeClient {
	return &FeeClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Quote returns the delivery fee in cents for the destination.
func (c *FeeClient) Quote(ctx context.Context, destination string) (uint32, error) {
	u := fmt.Sprintf("%s/v1/fee?destination=%s", c.baseURL, url.QueryEscape(destination))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("fee: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fee: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fee: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		FeeCents uint32 `json:"fee_cents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("fee: decode response: %w", err)
	}
	return body.FeeCents, nil
}
