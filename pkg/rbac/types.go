package rbac

// Role represents a tenant membership role. Exactly one role exists per
// (user, tenant) pair; roles are never global to a user.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether the role is one of the closed set. Deserialization
// boundaries should reject invalid roles; the engine itself simply denies them.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Action identifies an operation in the fixed catalog.
type Action string

const (
	ActionTenantRead   Action = "tenant:read"
	ActionTenantUpdate Action = "tenant:update"
	ActionTenantDelete Action = "tenant:delete"

	ActionMemberList       Action = "member:list"
	ActionMemberInvite     Action = "member:invite"
	ActionMemberRemove     Action = "member:remove"
	ActionMemberUpdateRole Action = "member:update_role"

	ActionInvitationCancel Action = "invitation:cancel"

	ActionBillingView   Action = "billing:view"
	ActionBillingManage Action = "billing:manage"

	ActionSubscriptionView    Action = "subscription:view"
	ActionSubscriptionUpgrade Action = "subscription:upgrade"
	ActionSubscriptionCancel  Action = "subscription:cancel"

	ActionCouponRedeem Action = "coupon:redeem"

	ActionNotificationRead Action = "notification:read"
)

// Catalog returns every action in the catalog. The order is stable and used
// by tests that enumerate the permission table.
func Catalog() []Action {
	return []Action{
		ActionTenantRead,
		ActionTenantUpdate,
		ActionTenantDelete,
		ActionMemberList,
		ActionMemberInvite,
		ActionMemberRemove,
		ActionMemberUpdateRole,
		ActionInvitationCancel,
		ActionBillingView,
		ActionBillingManage,
		ActionSubscriptionView,
		ActionSubscriptionUpgrade,
		ActionSubscriptionCancel,
		ActionCouponRedeem,
		ActionNotificationRead,
	}
}

// OwnershipContext carries the identity pair for ownership-aware checks.
type OwnershipContext struct {
	OwnerID int64
	UserID  int64
}

// rolePermissions is the static role -> allowed action table. The engine is
// data-driven: nothing below hard-codes a hierarchy, though the table is
// constructed so that member ⊆ admin ⊆ owner holds (validated by test).
func rolePermissions() map[Role][]Action {
	member := []Action{
		ActionTenantRead,
		ActionMemberList,
		ActionSubscriptionView,
		ActionNotificationRead,
	}
	admin := append(append([]Action{}, member...),
		ActionTenantUpdate,
		ActionMemberInvite,
		ActionMemberRemove,
		ActionInvitationCancel,
		ActionBillingView,
		ActionSubscriptionUpgrade,
		ActionCouponRedeem,
	)
	owner := append(append([]Action{}, admin...),
		ActionTenantDelete,
		ActionMemberUpdateRole,
		ActionBillingManage,
		ActionSubscriptionCancel,
	)
	return map[Role][]Action{
		RoleMember: member,
		RoleAdmin:  admin,
		RoleOwner:  owner,
	}
}

// ownershipBypassActions is the allowlist of actions granted to the resource
// owner regardless of role. No sensitive action may ever appear here; that is
// a hard security invariant, not a configuration choice.
func ownershipBypassActions() []Action {
	return []Action{
		ActionTenantRead,
		ActionTenantUpdate,
		ActionMemberList,
		ActionMemberInvite,
		ActionInvitationCancel,
		ActionBillingView,
		ActionSubscriptionView,
		ActionSubscriptionUpgrade,
		ActionNotificationRead,
	}
}

// sensitiveActions are destructive or privilege-affecting actions. They are
// always evaluated against role permissions and excluded from ownership bypass.
func sensitiveActions() []Action {
	return []Action{
		ActionTenantDelete,
		ActionMemberRemove,
		ActionMemberUpdateRole,
		ActionBillingManage,
		ActionSubscriptionCancel,
	}
}
