package handler

import "cafepos/pkg/models"

// transitionRoles says which roles may drive an order into each target
// state. Managers can do everything; the rest follows the counter flow:
// cashiers take payment and hand out finished orders, baristas work the
// queue, couriers close out deliveries.
var transitionRoles = map[models.Status][]models.Role{
	models.StatusPaidWaitingPreparation: {models.RoleCashier, models.RoleManager},
	models.StatusPreparing:              {models.RoleBarista, models.RoleManager},
	models.StatusReadyForPickup:         {models.RoleBarista, models.RoleManager},
	models.StatusCompleted:              {models.RoleCashier, models.RoleCourier, models.RoleManager},
	models.StatusCancelledByUser:        {models.RoleCashier, models.RoleManager},
	models.StatusCancelledByStaff:       {models.RoleCashier, models.RoleBarista, models.RoleManager},
}

func roleMayTransition(role models.Role, target models.Status) bool {
	for _, allowed := range transitionRoles[target] {
		if allowed == role {
			return true
		}
	}
	return false
}

// createRoles may ring up new orders. Baristas work the queue; they do not
// take orders at the counter.
var createRoles = map[models.Role]bool{
	models.RoleCashier: true,
	models.RoleCourier: true,
	models.RoleManager: true,
}

// stockRoles may write manual stock adjustments.
var stockRoles = map[models.Role]bool{
	models.RoleBarista: true,
	models.RoleManager: true,
}

// dashboardRoles may read aggregate sales figures.
var dashboardRoles = map[models.Role]bool{
	models.RoleCashier: true,
	models.RoleManager: true,
}
