// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptySessionID is returned when a session identifier is blank.
	ErrEmptySessionID = errors.New("session ID cannot be empty")

	// ErrStoryEmpty is returned when the submitted story has no content.
	ErrStoryEmpty = errors.New("story text cannot be empty")

	// ErrStoryTooShort is returned when the story is under MinStoryLength runes.
	ErrStoryTooShort = errors.New("story text is too short")

	// ErrStoryTooLong is returned when the story exceeds MaxStoryLength runes.
	ErrStoryTooLong = errors.New("story text is too long")

	// ErrInvalidSceneCount is returned when the panel count is outside 1..MaxScenes.
	ErrInvalidSceneCount = errors.New("scene count out of range")

	// ErrInvalidTaskStatus is returned for an unknown task status value.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidPanelStatus is returned for an unknown panel status value.
	ErrInvalidPanelStatus = errors.New("invalid panel status")

	// ErrInvalidPanelNumber is returned when a panel number is not positive.
	ErrInvalidPanelNumber = errors.New("invalid panel number")

	// ErrEmptyModification is returned when a regeneration carries no request text.
	ErrEmptyModification = errors.New("modification request cannot be empty")

	// ErrRegenerateRegenerated is returned when a regenerated panel is used as the
	// original of another regeneration.
	ErrRegenerateRegenerated = errors.New("cannot regenerate from a regenerated panel")

	// ErrTaskTerminal is returned when a state transition is attempted on a
	// task that already reached a terminal status.
	ErrTaskTerminal = errors.New("task is in a terminal state")
)
