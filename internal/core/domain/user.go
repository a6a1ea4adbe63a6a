package domain

type Role string

const (
	RoleMember     Role = "member"
	RoleGroupAdmin Role = "groupAdmin"
	RoleSuperAdmin Role = "superAdmin"
)

// ParseRole accepts the wire spelling of a role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMember, RoleGroupAdmin, RoleSuperAdmin:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// User is the coordinator's view of an account. Accounts are created elsewhere;
// only roles and the avatar reference matter here.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Roles    []Role `json:"roles"`
	Avatar   string `json:"avatar,omitempty"`
}

// Anonymous returns the implicit record of a user that has no stored document.
func Anonymous(username string) *User {
	return &User{Username: username, Roles: []Role{RoleMember}}
}

func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsSuperAdmin() bool {
	return u.HasRole(RoleSuperAdmin)
}

// CanCreateGroups reports whether the user may create new groups.
func (u *User) CanCreateGroups() bool {
	return u.HasRole(RoleGroupAdmin) || u.HasRole(RoleSuperAdmin)
}

// AddRole grants role and reports whether the role set changed.
func (u *User) AddRole(role Role) bool {
	if u.HasRole(role) {
		return false
	}
	u.Roles = append(u.Roles, role)
	return true
}
