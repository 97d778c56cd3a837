package models

// JobKind identifies a paid operation against the generation backend.
type JobKind string

const (
	JobKindGenerate         JobKind = "generate"
	JobKindRemoveBackground JobKind = "removeBackground"
	JobKindUpscale          JobKind = "upscale"
	JobKindReimagine        JobKind = "reimagine"
)

// IsTool reports whether the kind is an enhancement applied to an existing image,
// as opposed to a from-scratch generation.
func (k JobKind) IsTool() bool {
	return k == JobKindRemoveBackground || k == JobKindUpscale || k == JobKindReimagine
}

// JobStatus is the remote job state as reported by the generation backend.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// GenerationRequest is the input for a from-scratch generation.
type GenerationRequest struct {
	Prompt   string
	Style    string
	Category string
	Count    int
}

// ToolRequest is the input for an enhancement of an existing image.
type ToolRequest struct {
	ImageURL  string
	Operation JobKind
	Params    map[string]string
}
