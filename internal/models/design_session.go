package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus describes the persistence lifecycle of a design session.
// It is orthogonal to WorkflowStep: status answers "what is this record",
// step answers "where is the user inside the guided flow".
type SessionStatus string

const (
	StatusDraft      SessionStatus = "draft"
	StatusGenerating SessionStatus = "generating"
	StatusCompleted  SessionStatus = "completed"
	StatusSubmitted  SessionStatus = "submitted"
	StatusArchived   SessionStatus = "archived"
)

// WorkflowStep is the UI cursor of the guided flow.
type WorkflowStep string

const (
	StepWelcome    WorkflowStep = "welcome"
	StepPrompt     WorkflowStep = "prompt"
	StepStyle      WorkflowStep = "style"
	StepColor      WorkflowStep = "color"
	StepGenerating WorkflowStep = "generating"
	StepComplete   WorkflowStep = "complete"
)

// GeneratedImage is a single generation result attached to a session.
// Slice order is generation order.
type GeneratedImage struct {
	URL        string `json:"url"`
	ProviderID string `json:"providerId,omitempty"`
}

// DesignSession is the resumable draft record produced by the guided flow.
type DesignSession struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	Status           SessionStatus
	Step             WorkflowStep
	Prompt           string
	Style            string
	Color            string
	ProductType      string
	GeneratedImages  []GeneratedImage
	SelectedImageURL *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasImage reports whether url is one of the session's generated images.
func (s *DesignSession) HasImage(url string) bool {
	for _, img := range s.GeneratedImages {
		if img.URL == url {
			return true
		}
	}
	return false
}

// ReplaceImage swaps oldURL for newURL in place, keeping generation order.
func (s *DesignSession) ReplaceImage(oldURL, newURL string) bool {
	for i := range s.GeneratedImages {
		if s.GeneratedImages[i].URL == oldURL {
			s.GeneratedImages[i].URL = newURL
			return true
		}
	}
	return false
}

// IsLocked reports whether the session refuses further edits.
func (s *DesignSession) IsLocked() bool {
	return s.Status == StatusSubmitted || s.Status == StatusArchived
}
