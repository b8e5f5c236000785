package schema

// IdentityRolePermissionTable represents the 'identity.rolepermission' table
type IdentityRolePermissionTable struct {
	Table        string
	RoleID       string
	PermissionID string
}

// IdentityRolePermission is the schema definition for identity.rolepermission
var IdentityRolePermission = IdentityRolePermissionTable{
	Table:        "identity.rolepermission",
	RoleID:       "roleid",
	PermissionID: "permissionid",
}

// Columns returns all standard column names
func (t IdentityRolePermissionTable) Columns() []string {
	return []string{
		t.RoleID, t.PermissionID,
	}
}
