package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Named gateway failures. The withdrawal workflow branches on these;
// anything else is treated as transient.
var (
	ErrInsufficientGateway = errors.New("cryptopay: not enough gateway balance")
	ErrUnknownRecipient    = errors.New("cryptopay: recipient cannot receive transfers")
	ErrDuplicateSpendID    = errors.New("cryptopay: duplicate spend id")
	ErrRateLimited         = errors.New("cryptopay: rate limited")
)

// Balance is the gateway's custody view in minor units.
type Balance struct {
	Available int64 `json:"available"`
	OnHold    int64 `json:"onhold"`
	Total     int64 `json:"total"`
}

// Transfer is a completed payout through the gateway.
type Transfer struct {
	TransferID int64
	Asset      string
	Amount     int64
	Fee        int64
}

// Invoice mirrors the gateway invoice object, amounts in minor units.
type Invoice struct {
	InvoiceID int64
	Status    string // active | paid | expired
	Asset     string
	Amount    int64
	Fee       int64
	PayURL    string
	PaidAt    time.Time
}

const (
	InvoiceActive  = "active"
	InvoicePaid    = "paid"
	InvoiceExpired = "expired"
)

// Client talks to the CryptoPay HTTP API. Calls carry the configured
// timeout; amounts cross the boundary through the amount helpers.
type Client struct {
	baseURL string
	token   string
	asset   string
	httpc   *http.Client
	log     *zap.Logger
}

func New(baseURL, token, asset string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		asset:   asset,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) Asset() string { return c.asset }

type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var body bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&body).Encode(params); err != nil {
			return fmt.Errorf("cryptopay: encode %s: %w", method, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, &body)
	if err != nil {
		return fmt.Errorf("cryptopay: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("cryptopay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("cryptopay: decode %s: %w", method, err)
	}
	if !env.OK {
		return c.mapError(method, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("cryptopay: decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) mapError(method string, e *apiError) error {
	if e == nil {
		return fmt.Errorf("cryptopay: %s failed without error detail", method)
	}
	switch e.Name {
	case "NOT_ENOUGH_COINS":
		return ErrInsufficientGateway
	case "CANNOT_ATTACH_TRANSFER", "USER_NOT_FOUND":
		return ErrUnknownRecipient
	case "TRANSFER_SPEND_ID_DUPLICATE":
		return ErrDuplicateSpendID
	case "TOO_MANY_REQUESTS":
		return ErrRateLimited
	}
	return fmt.Errorf("cryptopay: %s: %d %s", method, e.Code, e.Name)
}

type wireBalance struct {
	CurrencyCode string          `json:"currency_code"`
	Available    decimal.Decimal `json:"available"`
	OnHold       decimal.Decimal `json:"onhold"`
}

// GetBalance fetches the configured asset's custody balance.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var balances []wireBalance
	if err := c.call(ctx, "getBalance", nil, &balances); err != nil {
		return Balance{}, err
	}
	for _, b := range balances {
		if b.CurrencyCode != c.asset {
			continue
		}
		available, err := ToMinor(b.Available)
		if err != nil {
			return Balance{}, fmt.Errorf("cryptopay: balance available: %w", err)
		}
		onhold, err := ToMinor(b.OnHold)
		if err != nil {
			return Balance{}, fmt.Errorf("cryptopay: balance onhold: %w", err)
		}
		return Balance{Available: available, OnHold: onhold, Total: available + onhold}, nil
	}
	return Balance{}, fmt.Errorf("cryptopay: no balance for asset %s", c.asset)
}

type wireTransfer struct {
	TransferID int64           `json:"transfer_id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
}

// SendTransfer pays amount (minor units) to a Telegram user. spendID is
// the idempotency key: retrying with the same id can never double-pay,
// the gateway answers ErrDuplicateSpendID instead.
func (c *Client) SendTransfer(ctx context.Context, recipientID int64, amount int64, spendID string) (Transfer, error) {
	params := map[string]string{
		"user_id":  strconv.FormatInt(recipientID, 10),
		"asset":    c.asset,
		"amount":   FromMinor(amount).String(),
		"spend_id": spendID,
	}
	var wt wireTransfer
	if err := c.call(ctx, "transfer", params, &wt); err != nil {
		return Transfer{}, err
	}
	sent, err := ToMinor(wt.Amount)
	if err != nil {
		return Transfer{}, fmt.Errorf("cryptopay: transfer amount: %w", err)
	}
	return Transfer{TransferID: wt.TransferID, Asset: wt.Asset, Amount: sent}, nil
}

type wireInvoice struct {
	InvoiceID int64           `json:"invoice_id"`
	Status    string          `json:"status"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	FeeAmount decimal.Decimal `json:"fee_amount"`
	PayURL    string          `json:"bot_invoice_url"`
	PaidAt    string          `json:"paid_at"`
}

func (w wireInvoice) toInvoice() (Invoice, error) {
	amount, err := ToMinor(w.Amount)
	if err != nil {
		return Invoice{}, fmt.Errorf("cryptopay: invoice amount: %w", err)
	}
	fee, err := ToMinor(w.FeeAmount)
	if err != nil {
		return Invoice{}, fmt.Errorf("cryptopay: invoice fee: %w", err)
	}
	inv := Invoice{
		InvoiceID: w.InvoiceID,
		Status:    w.Status,
		Asset:     w.Asset,
		Amount:    amount,
		Fee:       fee,
		PayURL:    w.PayURL,
	}
	if w.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, w.PaidAt); err == nil {
			inv.PaidAt = t
		}
	}
	return inv, nil
}

// CreateInvoice opens a deposit invoice for amount minor units.
func (c *Client) CreateInvoice(ctx context.Context, amount int64, payload string) (Invoice, error) {
	params := map[string]string{
		"asset":   c.asset,
		"amount":  FromMinor(amount).String(),
		"payload": payload,
	}
	var wi wireInvoice
	if err := c.call(ctx, "createInvoice", params, &wi); err != nil {
		return Invoice{}, err
	}
	return wi.toInvoice()
}

// GetInvoice fetches one invoice by id, for poll-based confirmation.
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (Invoice, error) {
	params := map[string]string{
		"invoice_ids": strconv.FormatInt(invoiceID, 10),
	}
	var res struct {
		Items []wireInvoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", params, &res); err != nil {
		return Invoice{}, err
	}
	if len(res.Items) == 0 {
		return Invoice{}, fmt.Errorf("cryptopay: invoice %d not found", invoiceID)
	}
	return res.Items[0].toInvoice()
}
