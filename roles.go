package auth

// UserRole is the account's campus role
type UserRole = string

const (
	// RoleStudent is an enrolled student
	RoleStudent UserRole = "student"
	// RoleFaculty is a teaching member
	RoleFaculty UserRole = "faculty"
	// RoleSecretary manages department records
	RoleSecretary UserRole = "secretary"
	// RoleAdmin manages accounts
	RoleAdmin UserRole = "admin"
)

// IsValidRole checks if the role is one of the predefined valid roles
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleSecretary, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if role meets the minimum required level
func IsAtLeast(role, minRole UserRole) bool {
	roleHierarchy := map[UserRole]int{
		RoleStudent:   0,
		RoleFaculty:   1,
		RoleSecretary: 2,
		RoleAdmin:     3,
	}

	currentLevel, exists := roleHierarchy[role]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleStudent,
		RoleFaculty,
		RoleSecretary,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, IsValidRole(role)
}
