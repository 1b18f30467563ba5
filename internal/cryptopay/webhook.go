package cryptopay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// WebhookUpdate is the gateway's push notification body.
type WebhookUpdate struct {
	UpdateID    int64       `json:"update_id"`
	UpdateType  string      `json:"update_type"` // invoice_paid
	RequestDate time.Time   `json:"request_date"`
	Payload     wireInvoice `json:"payload"`
}

// PaidInvoice extracts the invoice from an invoice_paid update.
func (u WebhookUpdate) PaidInvoice() (Invoice, error) {
	return u.Payload.toInvoice()
}

// VerifyWebhookSignature checks the crypto-pay-api-signature header:
// HMAC-SHA256 of the raw body keyed with SHA256(api token).
func VerifyWebhookSignature(token string, body []byte, signature string) bool {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook decodes a webhook body after signature verification.
func ParseWebhook(body []byte) (WebhookUpdate, error) {
	var u WebhookUpdate
	err := json.Unmarshal(body, &u)
	return u, err
}
