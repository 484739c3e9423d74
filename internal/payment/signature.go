package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Verifier checks HMAC-SHA256 signatures of client payment confirmations and
// provider webhooks. The two use separate secrets so that leaking one cannot
// forge the other.
type Verifier struct {
	confirmSecret []byte
	webhookSecret []byte
}

// NewVerifier builds a Verifier. Both secrets are required and must differ.
func NewVerifier(confirmSecret, webhookSecret string) (*Verifier, error) {
	confirmSecret = strings.TrimSpace(confirmSecret)
	webhookSecret = strings.TrimSpace(webhookSecret)
	if confirmSecret == "" || webhookSecret == "" {
		return nil, errors.New("payment: confirmation and webhook secrets are required")
	}
	if confirmSecret == webhookSecret {
		return nil, errors.New("payment: confirmation and webhook secrets must differ")
	}
	return &Verifier{confirmSecret: []byte(confirmSecret), webhookSecret: []byte(webhookSecret)}, nil
}

// SignConfirmation returns the hex signature of orderID|paymentID.
func (v *Verifier) SignConfirmation(orderID, paymentID string) string {
	return sign(v.confirmSecret, []byte(orderID+"|"+paymentID))
}

// SignWebhook returns the hex signature of a raw webhook body.
func (v *Verifier) SignWebhook(body []byte) string {
	return sign(v.webhookSecret, body)
}

// VerifyConfirmation reports whether signature matches orderID|paymentID.
func (v *Verifier) VerifyConfirmation(orderID, paymentID, signature string) bool {
	if v == nil || orderID == "" || paymentID == "" {
		return false
	}
	return equalHex(v.SignConfirmation(orderID, paymentID), signature)
}

// VerifyWebhook reports whether signature matches the raw body.
func (v *Verifier) VerifyWebhook(body []byte, signature string) bool {
	if v == nil || len(body) == 0 {
		return false
	}
	return equalHex(v.SignWebhook(body), signature)
}

func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(expected, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}
