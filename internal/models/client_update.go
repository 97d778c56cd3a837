package models

// UpdateType tags the kind of client update pushed over the updates queue.
type UpdateType string

const (
	UpdateTypeSession   UpdateType = "session"
	UpdateTypeNarration UpdateType = "narration"
)

// ClientDesignUpdate is the payload forwarded to the websocket edge so the UI
// can refresh without polling. Narration updates additionally carry the text
// and synthesized audio of the assistant message.
type ClientDesignUpdate struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	UpdateType   UpdateType `json:"update_type"`
	Status       string     `json:"status,omitempty"`
	Step         string     `json:"step,omitempty"`
	ImageURLs    []string   `json:"image_urls,omitempty"`
	ErrorDetails *string    `json:"error_details,omitempty"`
	Narration    *string    `json:"narration,omitempty"`
	AudioURL     *string    `json:"audio_url,omitempty"`
}
