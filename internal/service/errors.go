package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/maheshrc27/crosspost/internal/models"
)

var (
	ErrInvalidPost            = errors.New("invalid post")
	ErrUnsupportedContent     = errors.New("content kind not supported by provider")
	ErrCredentialInvalid      = errors.New("credential invalid or expired")
	ErrCredentialNotFound     = errors.New("credential not found")
	ErrMediaProcessingFailed  = errors.New("media processing failed")
	ErrMediaProcessingTimeout = errors.New("media processing timed out")
)

// Stage names the step of a publish or refresh that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageAuth     Stage = "auth"
	StageMedia    Stage = "media"
	StageInit     Stage = "init"
	StageAppend   Stage = "append"
	StageFinalize Stage = "finalize"
	StagePoll     Stage = "poll"
	StageCreate   Stage = "create"
	StageRefresh  Stage = "refresh"
)

// ProviderError is a non-2xx answer from a provider API.
type ProviderError struct {
	Provider   models.Provider
	Stage      Stage
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Stage, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrCredentialInvalid) match auth rejections.
func (e *ProviderError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrCredentialInvalid
	}
	return nil
}

type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	var se *stageError
	if errors.As(err, &pe) || errors.As(err, &se) {
		return err
	}
	return &stageError{stage: stage, err: err}
}

// StageOf reports the step an error was raised at, or "" if unknown.
func StageOf(err error) Stage {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	switch {
	case errors.Is(err, ErrInvalidPost), errors.Is(err, ErrUnsupportedContent):
		return StageValidate
	case errors.Is(err, ErrMediaProcessingFailed), errors.Is(err, ErrMediaProcessingTimeout):
		return StagePoll
	case errors.Is(err, ErrCredentialInvalid), errors.Is(err, ErrCredentialNotFound):
		return StageAuth
	}
	return ""
}
