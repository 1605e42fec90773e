package model

import (
	"time"

	clierr "github.com/ggonzalez94/v3swap/internal/errors"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code     int            `json:"code"`
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Revert   *clierr.Revert `json:"revert,omitempty"`
	Fallback string         `json:"fallback,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	ChainID   int64     `json:"chain_id,omitempty"`
	Wallet    string    `json:"wallet,omitempty"`
}

// NewErrorBody renders err for an error envelope.
func NewErrorBody(err error) *ErrorBody {
	code := clierr.CodeInternal
	message := "internal error"
	body := &ErrorBody{}
	if err != nil {
		message = err.Error()
	}
	if cliErr, ok := clierr.As(err); ok {
		code = cliErr.Code
		if cliErr.Fallback != nil {
			body.Fallback = cliErr.Fallback.Error()
		}
	}
	body.Code = int(code)
	body.Type = code.Type()
	body.Message = message
	body.Revert = clierr.RevertOf(err)
	return body
}
