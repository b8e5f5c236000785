package schema

// IdentityAccountTable represents the 'identity.account' table
type IdentityAccountTable struct {
	Table              string
	ID                 string
	Username           string
	NormalizedUsername string
	Email              string
	NormalizedEmail    string
	EmailConfirmed     string
	PhoneNumber        string
	PhoneConfirmed     string
	PasswordHash       string
	SecurityStamp      string
	ConcurrencyStamp   string
	TwoFactorType      string
	TwoFactorSecret    string
	Role               string
	Status             string
	VerificationStatus string
	LockoutEnabled     string
	LockoutEnd         string
	AccessFailedCount  string
	DisplayName        string
	CreatedAt          string
	CreatedBy          string
	UpdatedAt          string
	UpdatedBy          string
	IsDeleted          string
	DeletedAt          string
	DeletedBy          string
}

// IdentityAccount is the schema definition for identity.account
var IdentityAccount = IdentityAccountTable{
	Table:              "identity.account",
	ID:                 "id",
	Username:           "username",
	NormalizedUsername: "normalizedusername",
	Email:              "email",
	NormalizedEmail:    "normalizedemail",
	EmailConfirmed:     "emailconfirmed",
	PhoneNumber:        "phonenumber",
	PhoneConfirmed:     "phoneconfirmed",
	PasswordHash:       "passwordhash",
	SecurityStamp:      "securitystamp",
	ConcurrencyStamp:   "concurrencystamp",
	TwoFactorType:      "twofactortype",
	TwoFactorSecret:    "twofactorsecret",
	Role:               "role",
	Status:             "status",
	VerificationStatus: "verificationstatus",
	LockoutEnabled:     "lockoutenabled",
	LockoutEnd:         "lockoutend",
	AccessFailedCount:  "accessfailedcount",
	DisplayName:        "displayname",
	CreatedAt:          "createdat",
	CreatedBy:          "createdby",
	UpdatedAt:          "updatedat",
	UpdatedBy:          "updatedby",
	IsDeleted:          "isdeleted",
	DeletedAt:          "deletedat",
	DeletedBy:          "deletedby",
}

// Columns returns all standard column names
func (t IdentityAccountTable) Columns() []string {
	return []string{
		t.ID, t.Username, t.NormalizedUsername, t.Email, t.NormalizedEmail, t.EmailConfirmed,
		t.PhoneNumber, t.PhoneConfirmed, t.PasswordHash, t.SecurityStamp, t.ConcurrencyStamp,
		t.TwoFactorType, t.TwoFactorSecret, t.Role, t.Status, t.VerificationStatus,
		t.LockoutEnabled, t.LockoutEnd, t.AccessFailedCount, t.DisplayName,
		t.CreatedAt, t.CreatedBy, t.UpdatedAt, t.UpdatedBy, t.IsDeleted, t.DeletedAt, t.DeletedBy,
	}
}
