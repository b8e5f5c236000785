package schema

// IdentityUserRoleTable represents the 'identity.userrole' table
type IdentityUserRoleTable struct {
	Table  string
	UserID string
	RoleID string
}

// IdentityUserRole is the schema definition for identity.userrole
var IdentityUserRole = IdentityUserRoleTable{
	Table:  "identity.userrole",
	UserID: "userid",
	RoleID: "roleid",
}

// Columns returns all standard column names
func (t IdentityUserRoleTable) Columns() []string {
	return []string{
		t.UserID, t.RoleID,
	}
}
