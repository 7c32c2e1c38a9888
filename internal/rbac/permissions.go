package rbac

// Permission is a fine-grained capability tag. Permissions are never combined
// or derived at runtime beyond set membership; each role maps to a precomputed
// set in roles.go.
type Permission string

const (
	// Platform administration
	PermBankCreate     Permission = "bank:create"
	PermBankView       Permission = "bank:view"
	PermBankDeactivate Permission = "bank:deactivate"

	// Branch administration
	PermBranchCreate   Permission = "branch:create"
	PermBranchView     Permission = "branch:view"
	PermBranchSettings Permission = "branch:settings"

	// Staff management
	PermUserManage Permission = "user:manage"
	PermUserView   Permission = "user:view"

	// Customers
	PermCustomerCreate Permission = "customer:create"
	PermCustomerView   Permission = "customer:view"
	PermCustomerEdit   Permission = "customer:edit"

	// Loans
	PermLoanCreate  Permission = "loan:create"
	PermLoanApprove Permission = "loan:approve"
	PermLoanView    Permission = "loan:view"

	// Producer-company products
	PermDepositManage      Permission = "deposit:manage"
	PermShareCapitalManage Permission = "share-capital:manage"

	// Reporting and settings
	PermReportView     Permission = "report:view"
	PermSettingsManage Permission = "settings:manage"
)

// allPermissions is the full catalog in declaration order.
var allPermissions = []Permission{
	PermBankCreate,
	PermBankView,
	PermBankDeactivate,
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
}

// AllPermissions returns a copy of the full permission catalog.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// Contains reports whether p is a member of set.
func Contains(set []Permission, p Permission) bool {
	for _, candidate := range set {
		if candidate == p {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of perms is a member of set.
func ContainsAny(set []Permission, perms []Permission) bool {
	for _, p := range perms {
		if Contains(set, p) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every one of perms is a member of set.
// An empty perms slice is vacuously true.
func ContainsAll(set []Permission, perms []Permission) bool {
	for _, p := range perms {
		if !Contains(set, p) {
			return false
		}
	}
	return true
}
