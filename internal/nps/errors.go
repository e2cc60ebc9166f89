package nps

import (
	"errors"

	"nps/api/internal/store"
)

var (
	ErrNotFound                     = errors.New("not found")
	ErrNotEligible                  = errors.New("project is not open for feedback")
	ErrAlreadyCompleted             = errors.New("feedback already completed")
	ErrDuplicateWitnessType         = errors.New("duplicate witness organization in submission")
	ErrInvalidWitnessType           = errors.New("witness organization is not an obligation")
	ErrInvalidOrIncompleteQuestions = errors.New("questions are invalid, duplicated or miss a required one")
	ErrForbidden                    = errors.New("forbidden")
	ErrInvalidProjectType           = errors.New("invalid project type")

	// ErrConflict is retryable: the Response row moved between read and write.
	ErrConflict = store.ErrConflict
)
