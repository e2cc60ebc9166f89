package store

import "time"

type OrganizationType struct {
	ID   string
	Name string
}

type Organization struct {
	ID                  string
	Name                string
	OrganizationTypeIDs []string
	IsEnabled           bool
	Version             int
}

type User struct {
	ID             string
	OrganizationID *string
	FirstName      string
	LastName       string
	DisplayName    string
	Email          string
	Version        int
}

// Name returns "first last", or the display name when neither is set.
func (u User) Name() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.DisplayName
	}
	name := u.FirstName
	if u.FirstName != "" && u.LastName != "" {
		name += " "
	}
	return name + u.LastName
}

type Incident struct {
	ID                 string
	Name               string
	Members            []string
	ProgressPercentage int
	Version            int
}

type Tracker struct {
	ID      string
	Name    string
	Members []string
	Version int
}

// ProjectMembership is the slice of an incident or tracker the engine reads.
// ProgressPercentage is nil for trackers.
type ProjectMembership struct {
	ProjectType        string
	ProjectID          string
	Members            []string
	ProgressPercentage *int
}

const (
	QuestionTypeNumber = "Number"
	QuestionTypeText   = "Text"
)

type Question struct {
	ID           string
	Title        string
	Type         string
	Required     bool
	Placeholders []string
}

const (
	PlaceholderOrganization = "ORGANIZATION"
	PlaceholderMembers      = "MEMBERS"
)

type QuestionPlaceholder struct {
	ID   string
	Name string
}

// Witness is one entry of a respondent map: who must be asked, for which
// project types, and with which questions.
type Witness struct {
	Type         string   `json:"type"`
	ProjectTypes []string `json:"projectTypes"`
	Questions    []string `json:"questions"`
}

func (w Witness) AppliesTo(projectType string) bool {
	for _, candidate := range w.ProjectTypes {
		if candidate == projectType {
			return true
		}
	}
	return false
}

type RespondentQuestionsMap struct {
	ID             string
	RespondentType string
	Witnesses      []Witness
	Priority       int
}

// Answer is a stored {questionId, value} pair. Value is a number or a string,
// or nil for an empty optional text answer.
type Answer struct {
	QuestionID string `json:"id"`
	Value      any    `json:"value"`
}

type ResponseWitness struct {
	ID             string
	OrganizationID string
	Responses      []Answer
	Skipped        bool
	Version        int
	UpdatedAt      time.Time
}

// Response is the per (user, project) ledger row. Witnesses holds the
// populated sub-documents referenced by WitnessIDs.
type Response struct {
	ID         string
	UserID     string
	ProjectID  string
	Completed  bool
	WitnessIDs []string
	Witnesses  []ResponseWitness
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Submission is everything one Submit call writes, committed atomically.
// ExpectedVersion is 0 when no Response row existed at read time.
type Submission struct {
	ResponseID      string
	UserID          string
	ProjectID       string
	ExpectedVersion int
	Completed       bool
	WitnessIDs      []string
	Created         []ResponseWitness
	Updated         []ResponseWitness
}
