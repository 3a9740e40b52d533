package domain

import "time"

// PushToken is a device's push endpoint. Inactive tokens are never sent to.
type PushToken struct {
	Token      string    `json:"token" dynamodbav:"token"`
	UserID     string    `json:"user_id" dynamodbav:"user_id"`
	DeviceID   string    `json:"device_id" dynamodbav:"device_id"`
	DeviceType string    `json:"device_type" dynamodbav:"device_type"` // "Ios" | "Android"
	Active     bool      `json:"active" dynamodbav:"active"`
	CreatedAt  time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt  time.Time `json:"updated" dynamodbav:"updated_at"`
}
