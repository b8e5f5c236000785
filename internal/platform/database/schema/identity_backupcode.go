package schema

// IdentityBackupCodeTable represents the 'identity.backupcode' table
type IdentityBackupCodeTable struct {
	Table      string
	ID         string
	UserID     string
	CodeHash   string
	IsUsed     string
	UsedAt     string
	UsedFromIP string
	CreatedAt  string
}

// IdentityBackupCode is the schema definition for identity.backupcode
var IdentityBackupCode = IdentityBackupCodeTable{
	Table:      "identity.backupcode",
	ID:         "id",
	UserID:     "userid",
	CodeHash:   "codehash",
	IsUsed:     "isused",
	UsedAt:     "usedat",
	UsedFromIP: "usedfromip",
	CreatedAt:  "createdat",
}

// Columns returns all standard column names
func (t IdentityBackupCodeTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.CodeHash, t.IsUsed, t.UsedAt, t.UsedFromIP,
		t.CreatedAt,
	}
}
