package rbac

import "fmt"

// Capability is an atomic permission token.
type Capability string

// Project capabilities.
const (
	CapCreateProject Capability = "create_project"
	CapEditProject   Capability = "edit_project"
	CapDeleteProject Capability = "delete_project"
	CapViewProject   Capability = "view_project"
)

// Task capabilities.
const (
	CapCreateTask  Capability = "create_task"
	CapEditAnyTask Capability = "edit_any_task"
	CapEditOwnTask Capability = "edit_own_task"
	CapDeleteTask  Capability = "delete_task"
	CapViewTask    Capability = "view_task"
	CapAssignTask  Capability = "assign_task"
)

// Team and role capabilities.
const (
	CapManageTeams Capability = "manage_teams"
	CapViewTeams   Capability = "view_teams"
	CapAssignRoles Capability = "assign_roles"
)

// Comment and file capabilities.
const (
	CapCreateComment    Capability = "create_comment"
	CapEditOwnComment   Capability = "edit_own_comment"
	CapDeleteAnyComment Capability = "delete_any_comment"
	CapUploadFile       Capability = "upload_file"
	CapDeleteFile       Capability = "delete_file"
)

// Analytics, organization and export capabilities.
const (
	CapViewFullAnalytics    Capability = "view_full_analytics"
	CapViewLimitedAnalytics Capability = "view_limited_analytics"
	CapManageOrgSettings    Capability = "manage_org_settings"
	CapViewOrgSettings      Capability = "view_org_settings"
	CapExportData           Capability = "export_data"
)

var knownCapabilities = map[Capability]struct{}{
	CapCreateProject: {}, CapEditProject: {}, CapDeleteProject: {}, CapViewProject: {},
	CapCreateTask: {}, CapEditAnyTask: {}, CapEditOwnTask: {}, CapDeleteTask: {}, CapViewTask: {}, CapAssignTask: {},
	CapManageTeams: {}, CapViewTeams: {}, CapAssignRoles: {},
	CapCreateComment: {}, CapEditOwnComment: {}, CapDeleteAnyComment: {},
	CapUploadFile: {}, CapDeleteFile: {},
	CapViewFullAnalytics: {}, CapViewLimitedAnalytics: {},
	CapManageOrgSettings: {}, CapViewOrgSettings: {}, CapExportData: {},
}

// Defined reports whether c belongs to the closed capability set.
func (c Capability) Defined() bool {
	_, ok := knownCapabilities[c]
	return ok
}

// ParseCapability validates an externally supplied token.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(raw)
	if !c.Defined() {
		return "", fmt.Errorf("rbac: unknown capability %q", raw)
	}
	return c, nil
}

// EnforcedCapabilities lists every capability checked at an operation boundary.
// The catalog must grant each of them to at least one role.
func EnforcedCapabilities() []Capability {
	return []Capability{
		CapCreateProject,
		CapDeleteProject,
		CapViewProject,
		CapCreateTask,
		CapEditAnyTask,
		CapEditOwnTask,
		CapViewTask,
		CapAssignTask,
		CapManageTeams,
		CapViewTeams,
		CapAssignRoles,
		CapCreateComment,
		CapEditOwnComment,
		CapDeleteAnyComment,
		CapUploadFile,
		CapDeleteFile,
		CapViewFullAnalytics,
		CapViewLimitedAnalytics,
	}
}
