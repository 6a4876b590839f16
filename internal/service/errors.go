package service

import "errors"

// Domain errors. Handlers map each to one response.ErrCode.
var (
	ErrTestNotFound           = errors.New("test not found")
	ErrTestHasNoQuestions     = errors.New("test has no questions")
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrSubmissionNotOwned     = errors.New("submission belongs to another user")
	ErrSubmissionTestMismatch = errors.New("submission belongs to another test")
	ErrSubmissionCompleted    = errors.New("submission already completed")
	ErrSubmissionInProgress   = errors.New("submission not completed yet")
)
