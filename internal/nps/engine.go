package nps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nps/api/internal/store"
)

// Requester identifies the authenticated caller.
type Requester struct {
	UserID         string
	OrganizationID string
}

type Engine struct {
	repo      Repository
	threshold int
	newID     func() string
}

type Option func(*Engine)

// WithFeedbackThreshold sets the incident progress percentage at which
// feedback opens.
func WithFeedbackThreshold(threshold int) Option {
	return func(e *Engine) {
		e.threshold = threshold
	}
}

// WithIDGenerator replaces the generator used for new Response and
// ResponseWitness ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

func NewEngine(repo Repository, opts ...Option) *Engine {
	engine := &Engine{
		repo:      repo,
		threshold: DefaultFeedbackThreshold,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// resolution is the outcome of the witness pipeline for one requester.
type resolution struct {
	graph       projectGraph
	obligations []Obligation
}

// requesterTypes returns the organization types of the requester's organization.
func (e *Engine) requesterTypes(ctx context.Context, requester Requester) ([]string, error) {
	if requester.OrganizationID == "" {
		return nil, fmt.Errorf("%w: requester has no organization", ErrNotFound)
	}
	org, err := e.repo.FindOrganization(ctx, requester.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, requester.OrganizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("find requester organization: %w", err)
	}
	return org.OrganizationTypeIDs, nil
}

func (e *Engine) project(ctx context.Context, projectType ProjectType, projectID string) (Project, error) {
	if _, err := ParseProjectType(string(projectType)); err != nil {
		return nil, err
	}
	membership, err := e.repo.FindProjectMembership(ctx, string(projectType), projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, projectType, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return newProject(membership, e.threshold)
}

// resolve runs the witness resolver and the organization expander.
func (e *Engine) resolve(ctx context.Context, requesterTypes []string, project Project) (resolution, error) {
	if len(requesterTypes) == 0 {
		return resolution{}, nil
	}
	maps, err := e.repo.FindRespondentMapsByTypes(ctx, requesterTypes)
	if err != nil {
		return resolution{}, fmt.Errorf("find respondent maps: %w", err)
	}
	witnesses := resolveWitnesses(maps, requesterTypes, project.Type())
	if len(witnesses) == 0 {
		return resolution{}, nil
	}

	users, err := e.repo.FindUsersByIDs(ctx, project.Members())
	if err != nil {
		return resolution{}, fmt.Errorf("find members: %w", err)
	}
	organizations, err := e.repo.FindOrganizationsByIDs(ctx, memberOrganizationIDs(project.Members(), users))
	if err != nil {
		return resolution{}, fmt.Errorf("find member organizations: %w", err)
	}
	graph := buildProjectGraph(project.Members(), users, organizations)

	witnesses = graph.presentWitnesses(witnesses)
	if len(witnesses) == 0 {
		return resolution{graph: graph}, nil
	}
	typeMaps, err := e.repo.FindRespondentMapsByTypes(ctx, witnessTypes(witnesses))
	if err != nil {
		return resolution{}, fmt.Errorf("find witness priorities: %w", err)
	}
	witnesses = rankWitnesses(witnesses, typeMaps)

	return resolution{graph: graph, obligations: graph.expand(witnesses)}, nil
}

// GetForms renders the feedback forms the requester still has to fill for
// the project. Members of a non-empty project get forms regardless of
// progress; everyone else gets none.
func (e *Engine) GetForms(ctx context.Context, requester Requester, projectID string, projectType ProjectType) ([]Form, error) {
	requesterTypes, err := e.requesterTypes(ctx, requester)
	if err != nil {
		return nil, err
	}
	project, err := e.project(ctx, projectType, projectID)
	if err != nil {
		return nil, err
	}
	if len(project.Members()) == 0 || !project.HasMember(requester.UserID) {
		return []Form{}, nil
	}

	resolved, err := e.resolve(ctx, requesterTypes, project)
	if err != nil {
		return nil, err
	}
	if len(resolved.obligations) == 0 {
		return []Form{}, nil
	}

	questions, err := e.repo.FindQuestionsByIDs(ctx, questionIDs(resolved.obligations))
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	placeholders, err := e.repo.FindAllPlaceholders(ctx)
	if err != nil {
		return nil, fmt.Errorf("find placeholders: %w", err)
	}
	typeNames, err := e.organizationTypeNames(ctx, resolved)
	if err != nil {
		return nil, err
	}
	response, err := e.repo.LoadUserResponse(ctx, requester.UserID, project.ID())
	if err != nil {
		return nil, fmt.Errorf("load response: %w", err)
	}

	c := composer{
		graph:        resolved.graph,
		questions:    make(map[string]store.Question, len(questions)),
		placeholders: make(map[string]string, len(placeholders)),
		typeNames:    typeNames,
		stored:       storedWitnesses(response),
	}
	for _, question := range questions {
		c.questions[question.ID] = question
	}
	for _, placeholder := range placeholders {
		c.placeholders[placeholder.ID] = placeholder.Name
	}
	return c.forms(resolved.obligations), nil
}

func (e *Engine) organizationTypeNames(ctx context.Context, resolved resolution) (map[string]string, error) {
	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, obligation := range resolved.obligations {
		for _, typeID := range resolved.graph.organizations[obligation.OrganizationID].OrganizationTypeIDs {
			if _, ok := seen[typeID]; ok {
				continue
			}
			seen[typeID] = struct{}{}
			ids = append(ids, typeID)
		}
	}
	types, err := e.repo.FindOrganizationTypes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find organization types: %w", err)
	}
	names := make(map[string]string, len(types))
	for _, item := range types {
		names[item.ID] = item.Name
	}
	return names, nil
}

// storedWitnesses indexes a response's witnesses by organization.
func storedWitnesses(response *store.Response) map[string]store.ResponseWitness {
	stored := map[string]store.ResponseWitness{}
	if response == nil {
		return stored
	}
	for _, witness := range response.Witnesses {
		stored[witness.OrganizationID] = witness
	}
	return stored
}
