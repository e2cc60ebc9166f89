package nps

import (
	"fmt"
	"slices"

	"nps/api/internal/store"
)

type ProjectType string

const (
	ProjectIncident   ProjectType = store.ProjectTypeIncident
	ProjectResilience ProjectType = store.ProjectTypeResilience
)

// DefaultFeedbackThreshold is the incident progress at which feedback opens.
const DefaultFeedbackThreshold = 85

func ParseProjectType(value string) (ProjectType, error) {
	switch ProjectType(value) {
	case ProjectIncident, ProjectResilience:
		return ProjectType(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectType, value)
	}
}

// Project is the capability both incidents and trackers expose to the engine.
type Project interface {
	ID() string
	Type() ProjectType
	Members() []string
	HasMember(userID string) bool
	// IsEligible reports whether userID may submit feedback or be nagged for it.
	IsEligible(userID string) bool
}

func newProject(membership store.ProjectMembership, threshold int) (Project, error) {
	base := memberList{id: membership.ProjectID, members: membership.Members}
	switch ProjectType(membership.ProjectType) {
	case ProjectIncident:
		progress := 0
		if membership.ProgressPercentage != nil {
			progress = *membership.ProgressPercentage
		}
		return incidentProject{memberList: base, progress: progress, threshold: threshold}, nil
	case ProjectResilience:
		return trackerProject{memberList: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectType, membership.ProjectType)
	}
}

type memberList struct {
	id      string
	members []string
}

func (m memberList) ID() string        { return m.id }
func (m memberList) Members() []string { return m.members }

func (m memberList) HasMember(userID string) bool {
	return slices.Contains(m.members, userID)
}

type incidentProject struct {
	memberList
	progress  int
	threshold int
}

func (p incidentProject) Type() ProjectType { return ProjectIncident }

func (p incidentProject) IsEligible(userID string) bool {
	return p.progress >= p.threshold && len(p.members) > 0 && p.HasMember(userID)
}

type trackerProject struct {
	memberList
}

func (p trackerProject) Type() ProjectType { return ProjectResilience }

func (p trackerProject) IsEligible(userID string) bool {
	return len(p.members) > 0 && p.HasMember(userID)
}
