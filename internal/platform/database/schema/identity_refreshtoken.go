package schema

// IdentityRefreshTokenTable represents the 'identity.refreshtoken' table
type IdentityRefreshTokenTable struct {
	Table           string
	ID              string
	UserID          string
	TokenHash       string
	JwtID           string
	SessionID       string
	DeviceID        string
	IsUsed          string
	IsRevoked       string
	RevokedReason   string
	RevokedAt       string
	ExpiresAt       string
	ReplacedByToken string
	CreatedByIP     string
	CreatedAt       string
}

// IdentityRefreshToken is the schema definition for identity.refreshtoken
var IdentityRefreshToken = IdentityRefreshTokenTable{
	Table:           "identity.refreshtoken",
	ID:              "id",
	UserID:          "userid",
	TokenHash:       "tokenhash",
	JwtID:           "jwtid",
	SessionID:       "sessionid",
	DeviceID:        "deviceid",
	IsUsed:          "isused",
	IsRevoked:       "isrevoked",
	RevokedReason:   "revokedreason",
	RevokedAt:       "revokedat",
	ExpiresAt:       "expiresat",
	ReplacedByToken: "replacedbytoken",
	CreatedByIP:     "createdbyip",
	CreatedAt:       "createdat",
}

// Columns returns all standard column names
func (t IdentityRefreshTokenTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.TokenHash, t.JwtID, t.SessionID, t.DeviceID,
		t.IsUsed, t.IsRevoked, t.RevokedReason, t.RevokedAt, t.ExpiresAt, t.ReplacedByToken,
		t.CreatedByIP, t.CreatedAt,
	}
}
