package rbac

// Role identifies a principal's organizational function. A role is immutable
// once assigned to a session; changing it requires re-authentication.
type Role string

const (
	// RoleSuperAdmin is the platform operator. Superuser semantics: its
	// permission set is the union of the full catalog.
	RoleSuperAdmin Role = "super_admin"

	// RoleBankAdmin administers a single bank tenant.
	RoleBankAdmin Role = "bank_admin"

	// RoleBranchAdmin administers a single branch of a bank.
	RoleBranchAdmin Role = "branch_admin"

	RoleManager          Role = "manager"
	RoleAssistantManager Role = "assistant_manager"
	RoleCashier          Role = "cashier"
	RoleAccountant       Role = "accountant"
	RoleStaff            Role = "staff"
)

// DefaultRole is the low-privilege fallback used when a login payload carries
// no role and the access token's claims cannot be decoded.
const DefaultRole = RoleStaff

// roleRank fixes the authority ordering. Higher outranks lower.
var roleRank = map[Role]int{
	RoleSuperAdmin:       80,
	RoleBankAdmin:        70,
	RoleBranchAdmin:      60,
	RoleManager:          50,
	RoleAssistantManager: 40,
	RoleCashier:          30,
	RoleAccountant:       20,
	RoleStaff:            10,
}

// rolePermissions is the static Role -> granted set mapping.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: allPermissions,
	RoleBankAdmin: {
		PermBankView,
		PermBranchCreate,
		PermBranchView,
		PermBranchSettings,
		PermUserManage,
		PermUserView,
		PermCustomerCreate,
		PermCustomerView,
		PermCustomerEdit,
		PermLoanCreate,
		PermLoanApprove,
		PermLoanView,
		PermDepositManage,
		PermShareCapitalManage,
		PermReportView,
		PermSettingsManage,
	},
	RoleBranchAdmin: {
		PermBranchView,
		PermBranchSettings,
		PermUserManage,
		PermUserView,
		PermCustomerCreate,
		PermCustomerView,
		PermCustomerEdit,
		PermLoanCreate,
		PermLoanApprove,
		PermLoanView,
		PermDepositManage,
		PermShareCapitalManage,
		PermReportView,
	},
	RoleManager: {
		PermBranchView,
		PermUserView,
		PermCustomerCreate,
		PermCustomerView,
		PermCustomerEdit,
		PermLoanCreate,
		PermLoanApprove,
		PermLoanView,
		PermDepositManage,
		PermReportView,
	},
	RoleAssistantManager: {
		PermBranchView,
		PermUserView,
		PermCustomerCreate,
		PermCustomerView,
		PermCustomerEdit,
		PermLoanCreate,
		PermLoanView,
		PermDepositManage,
		PermReportView,
	},
	RoleCashier: {
		PermCustomerView,
		PermLoanView,
		PermDepositManage,
	},
	RoleAccountant: {
		PermCustomerView,
		PermLoanView,
		PermReportView,
	},
	RoleStaff: {
		PermCustomerView,
	},
}

// IsValid reports whether r is a known role.
func IsValid(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// PermissionsFor returns a copy of the granted set for r. Unknown roles get
// an empty set.
func PermissionsFor(r Role) []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether role r is granted p.
func HasPermission(r Role, p Permission) bool {
	return Contains(rolePermissions[r], p)
}

// HasAnyPermission reports whether role r is granted at least one of perms.
func HasAnyPermission(r Role, perms []Permission) bool {
	return ContainsAny(rolePermissions[r], perms)
}

// HasAllPermissions reports whether role r is granted every one of perms.
func HasAllPermissions(r Role, perms []Permission) bool {
	return ContainsAll(rolePermissions[r], perms)
}

// HasHigherAuthority reports whether a strictly outranks b in the fixed
// hierarchy. Unknown roles rank below every known role.
func HasHigherAuthority(a, b Role) bool {
	return roleRank[a] > roleRank[b]
}

// CanManageRole reports whether a principal holding manager may administer
// principals holding target. The super admin manages every role; a bank admin
// manages every role except the super admin; everyone else manages only
// strictly lower-ranked roles.
func CanManageRole(manager, target Role) bool {
	switch manager {
	case RoleSuperAdmin:
		return true
	case RoleBankAdmin:
		return target != RoleSuperAdmin
	default:
		return HasHigherAuthority(manager, target)
	}
}
