package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Global actions checked before the engine runs.
const (
	ActionGetNPSFormsData    Action = "GetNPSFormsData"
	ActionGetNPSStatus       Action = "GetNPSStatus"
	ActionSubmitNPSResponses Action = "SubmitNPSResponses"

	ActionGetEventLogStatistics Action = "GetEventLogStatistics"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionGetNPSFormsData || action == ActionGetNPSStatus || action == ActionSubmitNPSResponses ||
			action == ActionGetEventLogStatistics
	case RoleViewer:
		return action == ActionGetNPSStatus || action == ActionGetEventLogStatistics
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
