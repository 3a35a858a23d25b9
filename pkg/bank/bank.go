// Package bank is the boundary to the remote banking backend. The protocol
// client itself is a black box; this package fixes the calls the gateway
// makes and how their failures are classified.
package bank

import (
	"context"
	"encoding/json"
)

// OCRMethod selects how the backend client solves the login captcha.
type OCRMethod string

const (
	OCRDefault   OCRMethod = "default"
	OCRTesseract OCRMethod = "tesseract"
	OCRCustom    OCRMethod = "custom"
)

// ParseOCRMethod maps a configuration value onto an OCRMethod. Unknown and
// empty values fall back to OCRDefault.
func ParseOCRMethod(s string) OCRMethod {
	switch OCRMethod(s) {
	case OCRTesseract, OCRCustom:
		return OCRMethod(s)
	default:
		return OCRDefault
	}
}

// Config is what a client is constructed with. PreferredOCRMethod and
// SaveWasm are process wide and read once at startup.
type Config struct {
	Username           string
	Password           string
	PreferredOCRMethod OCRMethod
	SaveWasm           bool
}

// TransactionParams selects a transaction history window. Dates are
// dd/mm/yyyy and already validated.
type TransactionParams struct {
	AccountNumber string `json:"accountNumber"`
	FromDate      string `json:"fromDate"`
	ToDate        string `json:"toDate"`
}

// Client is one authenticated connection to the backend. Payloads are
// passed through to callers unchanged.
type Client interface {
	Login(ctx context.Context) (json.RawMessage, error)
	GetBalance(ctx context.Context) (json.RawMessage, error)
	GetTransactionsHistory(ctx context.Context, params TransactionParams) (json.RawMessage, error)
}

// Factory builds a new, not yet logged in, Client.
type Factory func(cfg Config) Client

// Operation names used in logs and metrics.
const (
	OpLogin        = "login"
	OpBalance      = "balance"
	OpTransactions = "transactions"
)
