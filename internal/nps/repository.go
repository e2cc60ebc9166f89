package nps

import (
	"context"

	"nps/api/internal/store"
)

// Repository is the read and write surface the engine needs from storage.
// Single-row finders return sql.ErrNoRows when the row is absent.
type Repository interface {
	FindOrganization(ctx context.Context, organizationID string) (store.Organization, error)
	FindOrganizationsByIDs(ctx context.Context, ids []string) ([]store.Organization, error)
	FindOrganizationTypes(ctx context.Context, ids []string) ([]store.OrganizationType, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)
	FindProjectMembership(ctx context.Context, projectType, projectID string) (store.ProjectMembership, error)
	FindRespondentMapsByTypes(ctx context.Context, respondentTypes []string) ([]store.RespondentQuestionsMap, error)
	FindQuestionsByIDs(ctx context.Context, ids []string) ([]store.Question, error)
	FindAllPlaceholders(ctx context.Context) ([]store.QuestionPlaceholder, error)
	LoadUserResponse(ctx context.Context, userID, projectID string) (*store.Response, error)
	CommitSubmission(ctx context.Context, submission store.Submission) error
}
