package handler

import (
	"testing"

	"cafepos/pkg/models"
)

func TestRoleMayTransition(t *testing.T) {
	cases := []struct {
		role   models.Role
		target models.Status
		want   bool
	}{
		{models.RoleCashier, models.StatusPaidWaitingPreparation, true},
		{models.RoleBarista, models.StatusPaidWaitingPreparation, false},
		{models.RoleBarista, models.StatusPreparing, true},
		{models.RoleBarista, models.StatusReadyForPickup, true},
		{models.RoleCashier, models.StatusPreparing, false},
		{models.RoleCourier, models.StatusCompleted, true},
		{models.RoleCourier, models.StatusPreparing, false},
		{models.RoleCashier, models.StatusCancelledByUser, true},
		{models.RoleBarista, models.StatusCancelledByUser, false},
		{models.RoleBarista, models.StatusCancelledByStaff, true},
	}
	for _, tc := range cases {
		if got := roleMayTransition(tc.role, tc.target); got != tc.want {
			t.Errorf("roleMayTransition(%s, %s) = %v, want %v", tc.role, tc.target, got, tc.want)
		}
	}
}

func TestManagerMayDriveEveryTransition(t *testing.T) {
	for target := range transitionRoles {
		if !roleMayTransition(models.RoleManager, target) {
			t.Errorf("manager should be allowed to set %s", target)
		}
	}
}

func TestCreateRoleScope(t *testing.T) {
	for _, role := range []models.Role{models.RoleCashier, models.RoleCourier, models.RoleManager} {
		if !createRoles[role] {
			t.Errorf("%s should be allowed to create orders", role)
		}
	}
	if createRoles[models.RoleBarista] {
		t.Error("baristas do not take orders at the counter")
	}
}

func TestDashboardRoleScope(t *testing.T) {
	if !dashboardRoles[models.RoleManager] || !dashboardRoles[models.RoleCashier] {
		t.Error("managers and cashiers should see the dashboard")
	}
	if dashboardRoles[models.RoleBarista] || dashboardRoles[models.RoleCourier] {
		t.Error("baristas and couriers should not see aggregate sales figures")
	}
}
