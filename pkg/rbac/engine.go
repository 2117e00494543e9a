package rbac

// Engine evaluates RBAC decisions against the static permission tables. It is
// immutable after construction and safe for concurrent use. Construct one at
// startup and inject it wherever decisions are needed; there is no package
// level default instance.
type Engine struct {
	permissions map[Role]map[Action]struct{}
	bypass      map[Action]struct{}
	sensitive   map[Action]struct{}
}

// NewEngine builds an engine over the built-in role/action catalog.
func NewEngine() *Engine {
	e := &Engine{
		permissions: make(map[Role]map[Action]struct{}),
		bypass:      make(map[Action]struct{}),
		sensitive:   make(map[Action]struct{}),
	}
	for role, actions := range rolePermissions() {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		e.permissions[role] = set
	}
	for _, a := range ownershipBypassActions() {
		e.bypass[a] = struct{}{}
	}
	for _, a := range sensitiveActions() {
		e.sensitive[a] = struct{}{}
	}
	return e
}

// Can reports whether the role is allowed to perform the action. Unknown roles
// and unknown actions resolve to deny, never to an error.
func (e *Engine) Can(role Role, action Action) bool {
	set, ok := e.permissions[role]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// CanWithOwnership grants the action immediately when the caller owns the
// resource and the action is on the ownership-bypass allowlist. Otherwise it
// delegates to Can. The ordering matters: ownership never overrides the role
// table for non-bypass actions, and the role is still consulted for the owner
// when the action is not in the allowlist.
func (e *Engine) CanWithOwnership(octx OwnershipContext, role Role, action Action) bool {
	if octx.OwnerID != 0 && octx.OwnerID == octx.UserID {
		if _, ok := e.bypass[action]; ok {
			return true
		}
	}
	return e.Can(role, action)
}

// IsSensitiveAction reports whether the action is in the sensitive set. The
// audit layer uses this to decide what to record.
func (e *Engine) IsSensitiveAction(action Action) bool {
	_, ok := e.sensitive[action]
	return ok
}

// PermissionsForRole returns the role's allowed actions in catalog order, or
// an empty slice for an unknown role.
func (e *Engine) PermissionsForRole(role Role) []Action {
	set, ok := e.permissions[role]
	if !ok {
		return []Action{}
	}
	out := make([]Action, 0, len(set))
	for _, a := range Catalog() {
		if _, ok := set[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// CanAll reports whether the role is allowed every one of the actions.
func (e *Engine) CanAll(role Role, actions []Action) bool {
	for _, a := range actions {
		if !e.Can(role, a) {
			return false
		}
	}
	return true
}

// CanAny reports whether the role is allowed at least one of the actions.
func (e *Engine) CanAny(role Role, actions []Action) bool {
	for _, a := range actions {
		if e.Can(role, a) {
			return true
		}
	}
	return false
}

// DeniedActions filters actions to those the role may not perform, preserving
// input order. The result feeds the deniedActions field of 403 responses.
func (e *Engine) DeniedActions(role Role, actions []Action) []Action {
	denied := make([]Action, 0, len(actions))
	for _, a := range actions {
		if !e.Can(role, a) {
			denied = append(denied, a)
		}
	}
	return denied
}
