package app

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"nps/api/internal/nps"
	"nps/api/internal/store"
)

const (
	minNumberAnswer = 0
	maxNumberAnswer = 10
	maxTextAnswer   = 2000
)

type submitBody struct {
	ProjectType string                  `json:"projectType"`
	Responses   []nps.SubmittedResponse `json:"responses"`
}

// validate checks the request shape only. Whether the organizations and
// questions are the right ones is decided by the engine.
func (b submitBody) validate() error {
	if len(b.Responses) == 0 {
		return validationError("Responses must be an array with minimum 1 element.")
	}
	for i, response := range b.Responses {
		if strings.TrimSpace(response.OrganizationID) == "" {
			return validationError(fmt.Sprintf("responses[%d].organizationId: Type must be valid.", i))
		}
		if response.Skipped {
			continue
		}
		if len(response.Questions) == 0 {
			return validationError(fmt.Sprintf("responses[%d].questions: Questions must be an array with minimum 1 element.", i))
		}
		for j, question := range response.Questions {
			if problem := validateQuestion(question); problem != "" {
				return validationError(fmt.Sprintf("responses[%d].questions[%d]: %s", i, j, problem))
			}
		}
	}
	return nil
}

// validateQuestion returns a user-facing problem, or "" when the question is valid.
func validateQuestion(question nps.SubmittedQuestion) string {
	if strings.TrimSpace(question.ID) == "" {
		return "Question Id must be valid."
	}
	switch question.Type {
	case store.QuestionTypeNumber:
		value, ok := question.Answer.(float64)
		if !ok || value < minNumberAnswer || value > maxNumberAnswer {
			return fmt.Sprintf("Answer must be positive number between %d and %d.", minNumberAnswer, maxNumberAnswer)
		}
	case store.QuestionTypeText:
		if question.Answer == nil {
			return ""
		}
		value, ok := question.Answer.(string)
		if !ok || utf8.RuneCountInString(value) > maxTextAnswer {
			return fmt.Sprintf("Answer must be string and of max %d characters long.", maxTextAnswer)
		}
	default:
		return "Question type can be any from this list only: Number, Text."
	}
	return ""
}
