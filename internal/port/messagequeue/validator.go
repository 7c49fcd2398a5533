package messagequeue

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// Validate checks that data is a routable envelope whose topic matches the
// subject it arrived on.
func Validate(prefix, subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	want, ok := TopicOf(prefix, subject)
	if !ok {
		return fmt.Errorf("subject %s is outside prefix %q", subject, prefix)
	}
	var e event.Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if e.Topic != want {
		return fmt.Errorf("topic %q does not match subject %s", e.Topic, subject)
	}
	return nil
}
