package orchestrator

import "github.com/google/uuid"

// newInferenceID mints a time-ordered UUIDv7, used for both inference_id
// and freshly-created episode_id values so IDs sort chronologically.
func newInferenceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
