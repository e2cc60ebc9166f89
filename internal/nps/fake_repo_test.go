package nps

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"nps/api/internal/store"
)

// fakeRepo is an in-memory Repository. The Fn fields override single methods.
type fakeRepo struct {
	organizationTypes map[string]store.OrganizationType
	organizations     map[string]store.Organization
	users             map[string]store.User
	projects          map[string]store.ProjectMembership
	maps              []store.RespondentQuestionsMap
	questions         map[string]store.Question
	placeholders      []store.QuestionPlaceholder
	responses         map[string]store.Response
	witnesses         map[string]store.ResponseWitness

	commits int

	findRespondentMapsFn func(ctx context.Context, respondentTypes []string) ([]store.RespondentQuestionsMap, error)
	commitSubmissionFn   func(ctx context.Context, submission store.Submission) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		organizationTypes: map[string]store.OrganizationType{},
		organizations:     map[string]store.Organization{},
		users:             map[string]store.User{},
		projects:          map[string]store.ProjectMembership{},
		questions:         map[string]store.Question{},
		responses:         map[string]store.Response{},
		witnesses:         map[string]store.ResponseWitness{},
	}
}

func projectKey(projectType, projectID string) string {
	return projectType + "/" + projectID
}

func responseKey(userID, projectID string) string {
	return userID + "/" + projectID
}

func (f *fakeRepo) addOrganization(id, name string, typeIDs ...string) {
	f.organizations[id] = store.Organization{ID: id, Name: name, OrganizationTypeIDs: typeIDs, IsEnabled: true}
}

func (f *fakeRepo) addUser(id, organizationID, firstName, lastName string) {
	user := store.User{ID: id, FirstName: firstName, LastName: lastName}
	if organizationID != "" {
		org := organizationID
		user.OrganizationID = &org
	}
	f.users[id] = user
}

func (f *fakeRepo) addIncident(id string, progress int, members ...string) {
	f.projects[projectKey(store.ProjectTypeIncident, id)] = store.ProjectMembership{
		ProjectType:        store.ProjectTypeIncident,
		ProjectID:          id,
		Members:            members,
		ProgressPercentage: &progress,
	}
}

func (f *fakeRepo) addTracker(id string, members ...string) {
	f.projects[projectKey(store.ProjectTypeResilience, id)] = store.ProjectMembership{
		ProjectType: store.ProjectTypeResilience,
		ProjectID:   id,
		Members:     members,
	}
}

func (f *fakeRepo) FindOrganization(_ context.Context, organizationID string) (store.Organization, error) {
	org, ok := f.organizations[organizationID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (f *fakeRepo) FindOrganizationsByIDs(_ context.Context, ids []string) ([]store.Organization, error) {
	items := make([]store.Organization, 0, len(ids))
	for _, id := range ids {
		if org, ok := f.organizations[id]; ok {
			items = append(items, org)
		}
	}
	return items, nil
}

func (f *fakeRepo) FindOrganizationTypes(_ context.Context, ids []string) ([]store.OrganizationType, error) {
	items := make([]store.OrganizationType, 0, len(ids))
	for _, id := range ids {
		if item, ok := f.organizationTypes[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeRepo) FindUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	items := make([]store.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			items = append(items, user)
		}
	}
	return items, nil
}

func (f *fakeRepo) FindProjectMembership(_ context.Context, projectType, projectID string) (store.ProjectMembership, error) {
	membership, ok := f.projects[projectKey(projectType, projectID)]
	if !ok {
		return store.ProjectMembership{}, sql.ErrNoRows
	}
	return membership, nil
}

func (f *fakeRepo) FindRespondentMapsByTypes(ctx context.Context, respondentTypes []string) ([]store.RespondentQuestionsMap, error) {
	if f.findRespondentMapsFn != nil {
		return f.findRespondentMapsFn(ctx, respondentTypes)
	}
	items := make([]store.RespondentQuestionsMap, 0)
	for _, row := range f.maps {
		if slices.Contains(respondentTypes, row.RespondentType) {
			items = append(items, row)
		}
	}
	return items, nil
}

func (f *fakeRepo) FindQuestionsByIDs(_ context.Context, ids []string) ([]store.Question, error) {
	items := make([]store.Question, 0, len(ids))
	for _, id := range ids {
		if question, ok := f.questions[id]; ok {
			items = append(items, question)
		}
	}
	return items, nil
}

func (f *fakeRepo) FindAllPlaceholders(_ context.Context) ([]store.QuestionPlaceholder, error) {
	return f.placeholders, nil
}

func (f *fakeRepo) LoadUserResponse(_ context.Context, userID, projectID string) (*store.Response, error) {
	response, ok := f.responses[responseKey(userID, projectID)]
	if !ok {
		return nil, nil
	}
	response.WitnessIDs = slices.Clone(response.WitnessIDs)
	response.Witnesses = make([]store.ResponseWitness, 0, len(response.WitnessIDs))
	for _, id := range response.WitnessIDs {
		response.Witnesses = append(response.Witnesses, f.witnesses[id])
	}
	return &response, nil
}

func (f *fakeRepo) CommitSubmission(ctx context.Context, submission store.Submission) error {
	if f.commitSubmissionFn != nil {
		return f.commitSubmissionFn(ctx, submission)
	}
	return f.commit(submission)
}

// commit checks every version before writing anything, like the store's
// transaction does.
func (f *fakeRepo) commit(submission store.Submission) error {
	key := responseKey(submission.UserID, submission.ProjectID)
	current, exists := f.responses[key]
	if submission.ExpectedVersion == 0 && exists {
		return store.ErrConflict
	}
	if submission.ExpectedVersion != 0 && (!exists || current.Version != submission.ExpectedVersion) {
		return store.ErrConflict
	}
	for _, witness := range submission.Updated {
		stored, ok := f.witnesses[witness.ID]
		if !ok || stored.Version != witness.Version {
			return store.ErrConflict
		}
	}
	for _, witness := range submission.Created {
		if _, ok := f.witnesses[witness.ID]; ok {
			return fmt.Errorf("duplicate witness id %s", witness.ID)
		}
	}

	for _, witness := range submission.Updated {
		witness.Version++
		f.witnesses[witness.ID] = witness
	}
	for _, witness := range submission.Created {
		f.witnesses[witness.ID] = witness
	}
	f.responses[key] = store.Response{
		ID:         submission.ResponseID,
		UserID:     submission.UserID,
		ProjectID:  submission.ProjectID,
		Completed:  submission.Completed,
		WitnessIDs: slices.Clone(submission.WitnessIDs),
		Version:    submission.ExpectedVersion + 1,
	}
	f.commits++
	return nil
}

func sequentialIDs() func() string {
	next := 0
	return func() string {
		next++
		return fmt.Sprintf("id-%d", next)
	}
}

// newFixture builds a client requester on an incident with a law firm (two
// members) and an insurer as witness organizations.
//
//	t-client map (priority 1): t-law -> [q-rate, q-notes], t-insurer -> [q-rate]
func newFixture() *fakeRepo {
	repo := newFakeRepo()
	repo.organizationTypes["t-client"] = store.OrganizationType{ID: "t-client", Name: "Client"}
	repo.organizationTypes["t-law"] = store.OrganizationType{ID: "t-law", Name: "Law Firm"}
	repo.organizationTypes["t-insurer"] = store.OrganizationType{ID: "t-insurer", Name: "Insurer"}

	repo.addOrganization("org-client", "Acme", "t-client")
	repo.addOrganization("org-law", "Counsel LLP", "t-law")
	repo.addOrganization("org-ins", "SafeCo", "t-insurer")

	repo.addUser("u-client", "org-client", "Cara", "Client")
	repo.addUser("u-law-1", "org-law", "Lee", "Lawson")
	repo.addUser("u-law-2", "org-law", "Lou", "")
	repo.addUser("u-ins", "org-ins", "Ian", "Sure")

	repo.addIncident("inc-1", 90, "u-client", "u-law-1", "u-law-2", "u-ins")

	repo.maps = []store.RespondentQuestionsMap{{
		ID:             "map-client",
		RespondentType: "t-client",
		Priority:       1,
		Witnesses: []store.Witness{
			{Type: "t-law", ProjectTypes: []string{"Incident"}, Questions: []string{"q-rate", "q-notes"}},
			{Type: "t-insurer", ProjectTypes: []string{"Incident", "Resilience"}, Questions: []string{"q-rate"}},
		},
	}}

	repo.questions["q-rate"] = store.Question{
		ID:           "q-rate",
		Title:        "How likely are you to recommend <<p-org>>?",
		Type:         store.QuestionTypeNumber,
		Required:     true,
		Placeholders: []string{"p-org"},
	}
	repo.questions["q-notes"] = store.Question{
		ID:           "q-notes",
		Title:        "Anything to add about <<p-members>>?",
		Type:         store.QuestionTypeText,
		Required:     false,
		Placeholders: []string{"p-members"},
	}
	repo.placeholders = []store.QuestionPlaceholder{
		{ID: "p-org", Name: store.PlaceholderOrganization},
		{ID: "p-members", Name: store.PlaceholderMembers},
	}
	return repo
}

var clientRequester = Requester{UserID: "u-client", OrganizationID: "org-client"}

func newTestEngine(repo *fakeRepo) *Engine {
	return NewEngine(repo, WithIDGenerator(sequentialIDs()))
}
