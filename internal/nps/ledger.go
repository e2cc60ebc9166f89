package nps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nps/api/internal/store"
)

// SubmittedQuestion is one answered question of a submission. Answer is a
// number for Number questions and a string or nil for Text questions.
type SubmittedQuestion struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Answer any    `json:"answer"`
}

type SubmittedResponse struct {
	OrganizationID string              `json:"organizationId"`
	Skipped        bool                `json:"skipped"`
	Questions      []SubmittedQuestion `json:"questions"`
}

// Submit validates responses against the requester's obligations and merges
// them into the stored Response. It returns ErrConflict when another
// submission for the same user and project committed first.
func (e *Engine) Submit(ctx context.Context, requester Requester, projectID string, projectType ProjectType, responses []SubmittedResponse) error {
	requesterTypes, err := e.requesterTypes(ctx, requester)
	if err != nil {
		return err
	}
	project, err := e.project(ctx, projectType, projectID)
	if err != nil {
		return err
	}
	if !project.IsEligible(requester.UserID) {
		return ErrNotEligible
	}

	existing, err := e.repo.LoadUserResponse(ctx, requester.UserID, project.ID())
	if err != nil {
		return fmt.Errorf("load response: %w", err)
	}
	if existing != nil && existing.Completed {
		return ErrAlreadyCompleted
	}
	if err := checkDistinctOrganizations(responses); err != nil {
		return err
	}

	resolved, err := e.resolve(ctx, requesterTypes, project)
	if err != nil {
		return err
	}
	questions, err := e.repo.FindQuestionsByIDs(ctx, questionIDs(resolved.obligations))
	if err != nil {
		return fmt.Errorf("find questions: %w", err)
	}

	plan := ledgerPlan{
		userID:      requester.UserID,
		projectID:   project.ID(),
		projectType: project.Type(),
		existing:    existing,
		obligations: resolved.obligations,
		required:    requiredQuestions(questions),
		newID:       e.newID,
	}
	submission, err := plan.build(responses)
	if err != nil {
		return err
	}

	if err := e.repo.CommitSubmission(ctx, submission); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func checkDistinctOrganizations(responses []SubmittedResponse) error {
	seen := make(map[string]struct{}, len(responses))
	for _, response := range responses {
		if _, ok := seen[response.OrganizationID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateWitnessType, response.OrganizationID)
		}
		seen[response.OrganizationID] = struct{}{}
	}
	return nil
}

// requiredQuestions returns the ids of known questions flagged required.
// Question ids absent from storage are treated as optional.
func requiredQuestions(questions []store.Question) map[string]bool {
	required := make(map[string]bool, len(questions))
	for _, question := range questions {
		if question.Required {
			required[question.ID] = true
		}
	}
	return required
}

// ledgerPlan turns validated responses into the rows one commit writes.
type ledgerPlan struct {
	userID      string
	projectID   string
	projectType ProjectType
	existing    *store.Response
	obligations []Obligation
	required    map[string]bool
	newID       func() string
}

func (p ledgerPlan) build(responses []SubmittedResponse) (store.Submission, error) {
	if len(responses) == 0 {
		return store.Submission{}, ErrInvalidWitnessType
	}
	byOrganization := make(map[string]Obligation, len(p.obligations))
	for _, obligation := range p.obligations {
		byOrganization[obligation.OrganizationID] = obligation
	}

	for _, response := range responses {
		obligation, ok := byOrganization[response.OrganizationID]
		if !ok || !obligation.appliesTo(p.projectType) {
			return store.Submission{}, fmt.Errorf("%w: %s", ErrInvalidWitnessType, response.OrganizationID)
		}
		if response.Skipped {
			continue
		}
		if err := p.checkQuestions(obligation, response.Questions); err != nil {
			return store.Submission{}, err
		}
	}

	submission := store.Submission{
		UserID:    p.userID,
		ProjectID: p.projectID,
	}
	stored := storedWitnesses(p.existing)
	created := make([]string, 0)
	for _, response := range responses {
		answers := toAnswers(response)
		if current, ok := stored[response.OrganizationID]; ok {
			if updated, changed := mergeWitness(current, response, answers); changed {
				submission.Updated = append(submission.Updated, updated)
			}
			continue
		}
		witness := store.ResponseWitness{
			ID:             p.newID(),
			OrganizationID: response.OrganizationID,
			Skipped:        response.Skipped,
			Responses:      answers,
		}
		submission.Created = append(submission.Created, witness)
		created = append(created, witness.ID)
	}

	var attached []string
	if p.existing != nil {
		submission.ResponseID = p.existing.ID
		submission.ExpectedVersion = p.existing.Version
		attached = appendUnique(attached, p.existing.WitnessIDs...)
	} else {
		submission.ResponseID = p.newID()
	}
	attached = appendUnique(attached, created...)
	submission.WitnessIDs = attached
	submission.Completed = len(attached) == len(p.obligations)
	return submission, nil
}

// checkQuestions requires the submitted ids to be distinct, drawn from the
// obligation's questions, and to cover every required one.
func (p ledgerPlan) checkQuestions(obligation Obligation, questions []SubmittedQuestion) error {
	allowed := make(map[string]struct{}, len(obligation.Questions))
	for _, id := range obligation.Questions {
		allowed[id] = struct{}{}
	}
	submitted := make(map[string]struct{}, len(questions))
	for _, question := range questions {
		if _, ok := allowed[question.ID]; !ok {
			return fmt.Errorf("%w: question %s", ErrInvalidOrIncompleteQuestions, question.ID)
		}
		if _, dup := submitted[question.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", ErrInvalidOrIncompleteQuestions, question.ID)
		}
		submitted[question.ID] = struct{}{}
	}
	for id := range allowed {
		if !p.required[id] {
			continue
		}
		if _, ok := submitted[id]; !ok {
			return fmt.Errorf("%w: missing required question %s", ErrInvalidOrIncompleteQuestions, id)
		}
	}
	return nil
}

// toAnswers returns nil for skipped responses.
func toAnswers(response SubmittedResponse) []store.Answer {
	if response.Skipped {
		return nil
	}
	answers := make([]store.Answer, 0, len(response.Questions))
	for _, question := range response.Questions {
		answers = append(answers, store.Answer{QuestionID: question.ID, Value: question.Answer})
	}
	return answers
}

// mergeWitness applies a resubmission to a stored witness. Answers of a
// skipped resubmission are left as they were.
func mergeWitness(current store.ResponseWitness, response SubmittedResponse, answers []store.Answer) (store.ResponseWitness, bool) {
	changed := false
	if current.Skipped != response.Skipped {
		current.Skipped = response.Skipped
		changed = true
	}
	if !response.Skipped && !sameAnswers(current.Responses, answers) {
		current.Responses = answers
		changed = true
	}
	return current, changed
}

func sameAnswers(a, b []store.Answer) bool {
	left, errLeft := json.Marshal(a)
	right, errRight := json.Marshal(b)
	if errLeft != nil || errRight != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func appendUnique(dst []string, values ...string) []string {
	for _, value := range values {
		duplicate := false
		for _, existing := range dst {
			if existing == value {
				duplicate = true
				break
			}
		}
		if !duplicate {
			dst = append(dst, value)
		}
	}
	return dst
}
