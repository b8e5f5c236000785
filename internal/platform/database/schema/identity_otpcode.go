package schema

// IdentityOTPCodeTable represents the 'identity.otpcode' table
type IdentityOTPCodeTable struct {
	Table          string
	ID             string
	UserID         string
	Purpose        string
	DeliveryMethod string
	Target         string
	CodeHash       string
	IsUsed         string
	UsedAt         string
	Attempts       string
	MaxAttempts    string
	ExpiresAt      string
	CreatedAt      string
}

// IdentityOTPCode is the schema definition for identity.otpcode
var IdentityOTPCode = IdentityOTPCodeTable{
	Table:          "identity.otpcode",
	ID:             "id",
	UserID:         "userid",
	Purpose:        "purpose",
	DeliveryMethod: "deliverymethod",
	Target:         "target",
	CodeHash:       "codehash",
	IsUsed:         "isused",
	UsedAt:         "usedat",
	Attempts:       "attempts",
	MaxAttempts:    "maxattempts",
	ExpiresAt:      "expiresat",
	CreatedAt:      "createdat",
}

// Columns returns all standard column names
func (t IdentityOTPCodeTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.Purpose, t.DeliveryMethod, t.Target, t.CodeHash,
		t.IsUsed, t.UsedAt, t.Attempts, t.MaxAttempts, t.ExpiresAt, t.CreatedAt,
	}
}
