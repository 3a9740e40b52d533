package domain

import "time"

// Purpose scopes a verification code. Values match the OTP types used by the
// mobile clients.
type Purpose string

const (
	PurposeAccountCreation Purpose = "created-account"
	PurposePasswordReset   Purpose = "reset-password"
	PurposePhoneVerify     Purpose = "in-app-change-phone-number"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeAccountCreation, PurposePasswordReset, PurposePhoneVerify:
		return true
	}
	return false
}

// VerificationCode stores the hash of an issued one-time code.
// PK: subject, SK: purpose. At most one record exists per pair; consuming a
// code deletes it. ExpiresAt is a Unix timestamp also used as DynamoDB TTL.
type VerificationCode struct {
	Subject   string    `json:"subject" dynamodbav:"subject"`
	Purpose   Purpose   `json:"purpose" dynamodbav:"purpose"`
	CodeHash  string    `json:"-" dynamodbav:"code_hash"`
	IssuedAt  time.Time `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt int64     `json:"expires_at" dynamodbav:"expires_at"`
}

// Expired reports whether the code is past its expiry at now.
func (v *VerificationCode) Expired(now time.Time) bool {
	return v.ExpiresAt != 0 && now.Unix() >= v.ExpiresAt
}
