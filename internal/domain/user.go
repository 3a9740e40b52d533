package domain

import "time"

// User types double as JWT roles.
const (
	RoleClient = "client"
	RoleHotel  = "hotel"
	RoleAdmin  = "admin"
)

// User is the identity record owned by the identity service.
type User struct {
	UserID         string    `json:"id" dynamodbav:"user_id"`
	Name           string    `json:"name" dynamodbav:"name"`
	Email          string    `json:"email" dynamodbav:"email"`
	Phone          *string   `json:"phone" dynamodbav:"phone"`
	PasswordHash   string    `json:"-" dynamodbav:"password_hash"`
	Type           string    `json:"type" dynamodbav:"type"`
	Source         string    `json:"source" dynamodbav:"source"` // "app" | "admin"
	Verified       bool      `json:"verified" dynamodbav:"verified"`
	PhoneConfirmed bool      `json:"phone_confirmed" dynamodbav:"phone_confirmed"`
	CreatedAt      time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updated" dynamodbav:"updated_at"`
}

type RegisterRequest struct {
	Name     string  `json:"name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Phone    *string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
