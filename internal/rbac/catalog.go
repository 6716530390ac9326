package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// Catalog is the immutable role to capability mapping. Build it once at
// startup and share it; it is safe for concurrent reads.
type Catalog struct {
	grants map[Role]map[Capability]struct{}
}

// NewCatalog validates grants and returns a Catalog. Every assignable role must
// hold a non-empty set of defined capabilities, and every capability in
// required must be granted to at least one role.
func NewCatalog(grants map[Role][]Capability, required ...Capability) (*Catalog, error) {
	c := &Catalog{grants: make(map[Role]map[Capability]struct{}, len(grants))}
	var errs []error
	for role, caps := range grants {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("rbac: catalog references invalid role %d", role))
			continue
		}
		set := make(map[Capability]struct{}, len(caps))
		for _, capability := range caps {
			if !capability.Defined() {
				errs = append(errs, fmt.Errorf("rbac: role %s granted undefined capability %q", role, capability))
				continue
			}
			set[capability] = struct{}{}
		}
		c.grants[role] = set
	}
	for _, role := range Roles() {
		if len(c.grants[role]) == 0 {
			errs = append(errs, fmt.Errorf("rbac: role %s has no capabilities", role))
		}
	}
	for _, capability := range required {
		if !c.grantedToAny(capability) {
			errs = append(errs, fmt.Errorf("rbac: capability %q is enforced but granted to no role", capability))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// DefaultGrants returns the production role to capability table.
func DefaultGrants() map[Role][]Capability {
	return map[Role][]Capability{
		RoleAdmin: {
			CapCreateProject, CapEditProject, CapDeleteProject, CapViewProject,
			CapCreateTask, CapEditAnyTask, CapEditOwnTask, CapDeleteTask, CapViewTask, CapAssignTask,
			CapManageTeams, CapViewTeams,
			CapAssignRoles,
			CapCreateComment, CapEditOwnComment, CapDeleteAnyComment,
			CapUploadFile, CapDeleteFile,
			CapViewFullAnalytics,
			CapManageOrgSettings, CapViewOrgSettings,
			CapExportData,
		},
		RoleMember: {
			CapViewProject,
			CapEditOwnTask, CapViewTask,
			CapViewTeams,
			CapCreateComment, CapEditOwnComment,
			CapUploadFile,
			CapViewLimitedAnalytics,
		},
		RoleViewer: {
			CapViewProject,
			CapViewTask,
			CapViewTeams,
			CapViewFullAnalytics,
			CapViewOrgSettings,
		},
	}
}

// DefaultCatalog builds the production catalog validated against EnforcedCapabilities.
func DefaultCatalog() (*Catalog, error) {
	return NewCatalog(DefaultGrants(), EnforcedCapabilities()...)
}

// MustDefaultCatalog is DefaultCatalog for process startup; it panics on a
// malformed table so the process never serves requests with it.
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Grants reports whether role holds capability.
func (c *Catalog) Grants(role Role, capability Capability) bool {
	if c == nil {
		return false
	}
	set, ok := c.grants[role]
	if !ok {
		return false
	}
	_, ok = set[capability]
	return ok
}

// CapabilitiesOf returns the sorted capability set of role. It is empty only
// for RoleNone.
func (c *Catalog) CapabilitiesOf(role Role) []Capability {
	if c == nil {
		return nil
	}
	set := c.grants[role]
	out := make([]Capability, 0, len(set))
	for capability := range set {
		out = append(out, capability)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) grantedToAny(capability Capability) bool {
	for _, set := range c.grants {
		if _, ok := set[capability]; ok {
			return true
		}
	}
	return false
}
