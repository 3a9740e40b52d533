package domain

import (
	"encoding/json"
	"errors"
)

// Intent kinds carried on the cross-service notify queue.
const (
	IntentMessageReceived = "MESSAGE_RECEIVED"
	IntentGenericPush     = "GENERIC_PUSH"
)

// TokenNotAvailable is the sentinel sibling services send when a recipient has no push token.
const TokenNotAvailable = "not_available"

// IdentityLookupRequest is the body of an identity-lookup request.
type IdentityLookupRequest struct {
	UserID string `json:"userId"`
}

// RPCError is the error shape a responder publishes instead of a record.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Identity-lookup error codes.
const (
	RPCCodeNotFound   = "not_found"
	RPCCodeBadRequest = "bad_request"
	RPCCodeInternal   = "internal"
)

// SubjectRecord is an identity record minus secret fields, as returned over the broker.
type SubjectRecord struct {
	UserID     string    `json:"id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	Type       string    `json:"type,omitempty"`
	Verified   bool      `json:"isVerified,omitempty"`
	PushTokens []string  `json:"pushTokens,omitempty"`
	Error      *RPCError `json:"error,omitempty"`
}

// Err converts an error-shaped record back into a domain error.
func (r *SubjectRecord) Err() error {
	if r.Error == nil {
		return nil
	}
	switch r.Error.Code {
	case RPCCodeNotFound:
		return errors.Join(ErrNotFound, errors.New(r.Error.Message))
	case RPCCodeBadRequest:
		return errors.Join(ErrBadRequest, errors.New(r.Error.Message))
	default:
		return errors.New(r.Error.Message)
	}
}

// EmailMessage is the body of the email-send queue.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SMSMessage is the body of the sms-send queue. Either Code or Message may be set;
// an empty body delivers nothing but the provider's own verification text.
type SMSMessage struct {
	To      string `json:"to"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// PushMessage is the body of the generic-push-send queue.
type PushMessage struct {
	To    Recipients     `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Recipients accepts either a single token string or an array of tokens.
type Recipients []string

func (r *Recipients) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*r = Recipients{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// NotificationIntent is the body of the cross-service notify queue.
type NotificationIntent struct {
	Type            string `json:"type"`
	RecipientID     string `json:"recipientId"`
	Message         string `json:"message"`
	RecipientEmail  string `json:"recipientEmail,omitempty"`
	RecipientToken  string `json:"recipientToken,omitempty"`
	FromDisplayName string `json:"fromDisplayName"`
}
