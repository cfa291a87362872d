package authz

import (
	"strings"

	"biohub.org/internal/auth"
)

// intersects reports whether held and valid share a value. Both sides are
// compared trimmed and case-sensitively. An empty valid set places no
// restriction.
func intersects(held, valid []string) bool {
	if len(valid) == 0 {
		return true
	}
	for _, h := range held {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		for _, v := range valid {
			if h == strings.TrimSpace(v) {
				return true
			}
		}
	}
	return false
}

func systemRoleSatisfied(user *auth.SystemUser, valid []string) bool {
	if user == nil {
		return false
	}
	return intersects(user.RoleNames, valid)
}

func projectRoleSatisfied(p *auth.ProjectParticipant, valid []string) bool {
	if p == nil {
		return false
	}
	return intersects(p.RoleNames, valid)
}

func projectPermissionSatisfied(p *auth.ProjectParticipant, valid []string) bool {
	if p == nil {
		return false
	}
	return intersects(p.Permissions, valid)
}
