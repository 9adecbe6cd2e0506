package rbac

// Role names. Keep these stable; they are part of auth contracts.
const (
	RoleCustomer   = "customer"
	RoleSupport    = "support"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
