// Package chainweb is a thin query client for a Chainweb node's Pact
// endpoint. The bridge uses it for exactly one thing: dirty-read
// balance lookups during kda_requestAccount.
package chainweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kda-wallet/bridge/internal/pact"
	"github.com/kda-wallet/bridge/pkg/types"
)

// Local query metadata. The meta of a dirty read is never charged; the
// values only need to pass node-side validation.
const (
	localGasPrice = 0.0000001
	localGasLimit = 150000
	localTTL      = 600
)

// Client queries Pact code against a Chainweb node.
type Client struct {
	httpClient *http.Client
	signer     *pact.Signer
	now        func() time.Time
}

// NewClient creates a chainweb client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		signer:     pact.NewSigner(),
		now:        time.Now,
	}
}

// LocalResult is the result member of a /local response.
type LocalResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// LocalResponse is a Chainweb /api/v1/local reply.
type LocalResponse struct {
	Result LocalResult `json:"result"`
}

// Local executes pactCode as an unsigned local (dirty-read) command on
// the given network and chain.
func (c *Client) Local(ctx context.Context, pactCode string, network types.Network, chainID string) (*LocalResponse, error) {
	meta := pact.MkMeta("", chainID, localGasPrice, localGasLimit, c.now().Unix(), localTTL)
	nonce := strconv.Quote(c.now().UTC().Format(time.RFC3339))

	cmd, err := c.signer.PrepareExecCmd(nil, nonce, pactCode, nil, meta, network.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to build local command: %w", err)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal local command: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chainweb/0.0/%s/chain/%s/pact/api/v1/local",
		strings.TrimSuffix(network.URL, "/"), network.NetworkID, chainID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local query returned status %d", resp.StatusCode)
	}

	var local LocalResponse
	if err := json.NewDecoder(resp.Body).Decode(&local); err != nil {
		return nil, fmt.Errorf("failed to decode local response: %w", err)
	}

	return &local, nil
}

// AccountBalance fetches the coin balance of account on the given
// network and chain.
func (c *Client) AccountBalance(ctx context.Context, account string, network types.Network, chainID string) (float64, error) {
	code := fmt.Sprintf("(coin.details %q)", account)

	resp, err := c.Local(ctx, code, network, chainID)
	if err != nil {
		return 0, err
	}
	if resp.Result.Status != "success" {
		return 0, fmt.Errorf("coin.details failed for %s", account)
	}

	var details struct {
		Balance json.RawMessage `json:"balance"`
	}
	if err := json.Unmarshal(resp.Result.Data, &details); err != nil {
		return 0, fmt.Errorf("failed to parse account details: %w", err)
	}

	return parseDecimal(details.Balance)
}

// parseDecimal handles the two encodings Pact uses for decimals: a
// plain JSON number or an object carrying a decimal string.
func parseDecimal(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}

	var wrapped struct {
		Decimal string `json:"decimal"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Decimal != "" {
		return strconv.ParseFloat(wrapped.Decimal, 64)
	}

	return 0, fmt.Errorf("unrecognized balance encoding: %s", raw)
}
