package nps

import (
	"context"
	"fmt"
)

type Status struct {
	Status bool `json:"status"`
}

// GetStatus reports whether the requester still owes feedback on the project.
func (e *Engine) GetStatus(ctx context.Context, requester Requester, projectID string, projectType ProjectType) (Status, error) {
	requesterTypes, err := e.requesterTypes(ctx, requester)
	if err != nil {
		return Status{}, err
	}
	project, err := e.project(ctx, projectType, projectID)
	if err != nil {
		return Status{}, err
	}
	if !project.IsEligible(requester.UserID) {
		return Status{}, nil
	}

	resolved, err := e.resolve(ctx, requesterTypes, project)
	if err != nil {
		return Status{}, err
	}
	if len(resolved.obligations) == 0 {
		return Status{}, nil
	}

	response, err := e.repo.LoadUserResponse(ctx, requester.UserID, project.ID())
	if err != nil {
		return Status{}, fmt.Errorf("load response: %w", err)
	}
	return Status{Status: response == nil || !response.Completed}, nil
}
