// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// UserRole is the primary role carried in access tokens.
//
// Roles only name a node of the authz catalog; what a role may do, and which
// roles it inherits from, is data in identity.role and identity.rolepermission.
type UserRole string

// Roles seeded by the first migration.
const (
	RoleMember    UserRole = "member"
	RoleCreator   UserRole = "creator"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)
