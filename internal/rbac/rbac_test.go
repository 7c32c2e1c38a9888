package rbac_test

import (
	"testing"

	"github.com/bankrail/bankrail/internal/rbac"
	"github.com/stretchr/testify/assert"
)

var everyRole = []rbac.Role{
	rbac.RoleSuperAdmin,
	rbac.RoleBankAdmin,
	rbac.RoleBranchAdmin,
	rbac.RoleManager,
	rbac.RoleAssistantManager,
	rbac.RoleCashier,
	rbac.RoleAccountant,
	rbac.RoleStaff,
}

func TestSuperAdminCoversFullCatalog(t *testing.T) {
	for _, p := range rbac.AllPermissions() {
		assert.True(t, rbac.HasPermission(rbac.RoleSuperAdmin, p),
			"super admin must hold %s", p)
	}
}

func TestEveryRoleMapsToExactlyOneSet(t *testing.T) {
	for _, r := range everyRole {
		assert.True(t, rbac.IsValid(r))
		first := rbac.PermissionsFor(r)
		second := rbac.PermissionsFor(r)
		assert.Equal(t, first, second, "granted set for %s must be stable", r)
	}
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := rbac.PermissionsFor(rbac.RoleCashier)
	if assert.NotEmpty(t, perms) {
		perms[0] = "tampered"
	}
	assert.NotContains(t, rbac.PermissionsFor(rbac.RoleCashier), rbac.Permission("tampered"))
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	assert.True(t, rbac.HasAnyPermission(rbac.RoleCashier, []rbac.Permission{
		rbac.PermBankCreate, rbac.PermDepositManage,
	}))
	assert.False(t, rbac.HasAnyPermission(rbac.RoleCashier, []rbac.Permission{
		rbac.PermBankCreate, rbac.PermLoanApprove,
	}))

	assert.True(t, rbac.HasAllPermissions(rbac.RoleManager, []rbac.Permission{
		rbac.PermLoanCreate, rbac.PermLoanApprove,
	}))
	assert.False(t, rbac.HasAllPermissions(rbac.RoleAssistantManager, []rbac.Permission{
		rbac.PermLoanCreate, rbac.PermLoanApprove,
	}))

	// Vacuous truth for the empty requirement set.
	assert.True(t, rbac.HasAllPermissions(rbac.RoleStaff, nil))
}

func TestManagerLacksBankProvisioning(t *testing.T) {
	assert.False(t, rbac.HasPermission(rbac.RoleManager, rbac.PermBankCreate))
	assert.False(t, rbac.HasPermission(rbac.RoleManager, rbac.PermBranchCreate))
}

func TestHasHigherAuthorityIsStrict(t *testing.T) {
	assert.True(t, rbac.HasHigherAuthority(rbac.RoleBankAdmin, rbac.RoleManager))
	assert.False(t, rbac.HasHigherAuthority(rbac.RoleManager, rbac.RoleManager))
	assert.False(t, rbac.HasHigherAuthority(rbac.RoleCashier, rbac.RoleBankAdmin))

	// Unknown roles rank below everything.
	assert.True(t, rbac.HasHigherAuthority(rbac.RoleStaff, rbac.Role("intern")))
	assert.False(t, rbac.HasHigherAuthority(rbac.Role("intern"), rbac.RoleStaff))
}

func TestCanManageRoleTruthTable(t *testing.T) {
	for _, target := range everyRole {
		assert.True(t, rbac.CanManageRole(rbac.RoleSuperAdmin, target),
			"super admin must manage %s", target)

		want := target != rbac.RoleSuperAdmin
		assert.Equal(t, want, rbac.CanManageRole(rbac.RoleBankAdmin, target),
			"bank admin vs %s", target)
	}

	// Everyone else falls back to strict rank comparison.
	for _, manager := range everyRole[2:] {
		for _, target := range everyRole {
			assert.Equal(t,
				rbac.HasHigherAuthority(manager, target),
				rbac.CanManageRole(manager, target),
				"%s managing %s", manager, target)
		}
	}
}

func TestDefaultRoleIsLowPrivilege(t *testing.T) {
	assert.Equal(t, rbac.RoleStaff, rbac.DefaultRole)
	assert.False(t, rbac.HasPermission(rbac.DefaultRole, rbac.PermLoanApprove))
	assert.False(t, rbac.HasPermission(rbac.DefaultRole, rbac.PermUserManage))
}
