package schema

// IdentityRoleTable represents the 'identity.role' table
type IdentityRoleTable struct {
	Table    string
	ID       string
	ParentID string
}

// IdentityRole is the schema definition for identity.role
var IdentityRole = IdentityRoleTable{
	Table:    "identity.role",
	ID:       "id",
	ParentID: "parentid",
}

// Columns returns all standard column names
func (t IdentityRoleTable) Columns() []string {
	return []string{
		t.ID, t.ParentID,
	}
}
