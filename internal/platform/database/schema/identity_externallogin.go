package schema

// IdentityExternalLoginTable represents the 'identity.externallogin' table
type IdentityExternalLoginTable struct {
	Table               string
	ID                  string
	UserID              string
	Provider            string
	ProviderKey         string
	ProviderDisplayName string
	CreatedAt           string
}

// IdentityExternalLogin is the schema definition for identity.externallogin
var IdentityExternalLogin = IdentityExternalLoginTable{
	Table:               "identity.externallogin",
	ID:                  "id",
	UserID:              "userid",
	Provider:            "provider",
	ProviderKey:         "providerkey",
	ProviderDisplayName: "providerdisplayname",
	CreatedAt:           "createdat",
}

// Columns returns all standard column names
func (t IdentityExternalLoginTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.Provider, t.ProviderKey, t.ProviderDisplayName, t.CreatedAt,
	}
}
