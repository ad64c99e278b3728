/**
 * @description
 * This package provides a client for the core-banking lookup service. The score ledger
 * uses it to resolve a customer's CIF from a national code, fetch the deposit behind an
 * account number and read the province of a branch.
 */
package corebanking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when core banking answers 404.
	ErrNotFound = errors.New("core banking: not found")
	// ErrUnavailable wraps transport failures and non-404 error statuses.
	ErrUnavailable = errors.New("core banking: unavailable")
)

// DepositStatusOpen is the only deposit status that may take part in a transfer.
const DepositStatusOpen = "open"

// Customer is the core-banking customer record behind a national code.
type Customer struct {
	CIF          string `json:"cif"`
	NationalCode string `json:"national_code"`
}

// Deposit is a customer's deposit account.
type Deposit struct {
	AccountNumber string `json:"account_number"`
	DepositType   string `json:"deposit_type"`
	BranchCode    string `json:"branch_code"`
	Status        string `json:"status"`
}

// IsOpen reports whether the deposit is active.
func (d Deposit) IsOpen() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), DepositStatusOpen)
}

// Branch is an entry of the branch directory.
type Branch struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Province string `json:"province"`
}

// Client is a client for the core-banking service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new core-banking client.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ResolveCustomer looks up the customer owning a national code.
func (c *Client) ResolveCustomer(ctx context.Context, nationalCode string) (*Customer, error) {
	var customer Customer
	path := fmt.Sprintf("/customers/%s", url.PathEscape(nationalCode))
	if err := c.get(ctx, path, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// ResolveDeposit fetches one deposit of a customer.
func (c *Client) ResolveDeposit(ctx context.Context, cif string, accountNumber string) (*Deposit, error) {
	var deposit Deposit
	path := fmt.Sprintf("/customers/%s/deposits/%s", url.PathEscape(cif), url.PathEscape(accountNumber))
	if err := c.get(ctx, path, &deposit); err != nil {
		return nil, err
	}
	return &deposit, nil
}

// BranchData reads a branch from the branch directory.
func (c *Client) BranchData(ctx context.Context, branchCode string) (*Branch, error) {
	var branch Branch
	path := fmt.Sprintf("/branches/%s", url.PathEscape(branchCode))
	if err := c.get(ctx, path, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("core banking base url is empty: %w", ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to core banking: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("core banking returned error status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v: %w", err, ErrUnavailable)
	}
	return nil
}
