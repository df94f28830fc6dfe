package scene

import "time"

// Scene is a named snapshot of device-confirmed parameter values for one
// processor.
type Scene struct {
	ID          string             `json:"id"`
	ProcessorID string             `json:"processor_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  map[string]float64 `json:"parameters"`

	// RecallTime is the advisory window (seconds) a recall spreads its
	// writes across. Zero means the engine's default write spacing.
	RecallTime int `json:"recall_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recall statuses.
const (
	StatusRecalled = "recalled"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// FailedParam records one parameter that could not be applied.
type FailedParam struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RecallResult reports the outcome of a recall. A recall keeps going past
// individual failures so the result always accounts for every parameter in
// the scene.
type RecallResult struct {
	SceneID     string        `json:"scene_id"`
	SceneName   string        `json:"scene_name"`
	ProcessorID string        `json:"processor_id"`
	Status      string        `json:"status"`
	Applied     []string      `json:"applied"`
	Failed      []FailedParam `json:"failed,omitempty"`
	Duration    time.Duration `json:"duration"`
}
