package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUpdatedAt      = "updated_at"
	fieldVerified       = "verified"
	fieldPhoneConfirmed = "phone_confirmed"
	fieldPasswordHash   = "password_hash"
	fieldImages         = "images"
	fieldActive         = "active"
)
