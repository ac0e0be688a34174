// Package credentials implements the Credential Store (spec.md §4.1):
// an in-memory, read-only-after-load mapping from bus topic to the
// shared secret authorized to publish or subscribe on it.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
)

// TopicCredential is the shared secret authorized for one bus topic.
// Immutable after load.
type TopicCredential struct {
	LTIKey    string `json:"ltiKey"`
	LTISecret string `json:"ltiSecret"`
}

// Table is a read-only mapping from bus topic to TopicCredential.
// Safe for concurrent reads from any number of goroutines; never
// mutated after Load returns.
type Table struct {
	byTopic map[string]TopicCredential
}

// Load reads path, strips C/C++-style comments, and parses the result
// as a JSON object of { topic: {ltiKey, ltiSecret}, ... }. Per
// spec.md §4.1 this fails fatally on I/O or parse error — the caller
// is expected to treat a non-nil error as a startup failure.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential config %s: %w", path, err)
	}

	stripped := StripComments(raw)

	var parsed map[string]TopicCredential
	if err := json.Unmarshal(stripped, &parsed); err != nil {
		return nil, fmt.Errorf("parse credential config %s: %w", path, err)
	}

	return &Table{byTopic: parsed}, nil
}

// Lookup returns the credential for topic, or ok=false if the topic
// is unknown. O(1), never mutating.
func (t *Table) Lookup(topic string) (TopicCredential, bool) {
	cred, ok := t.byTopic[topic]
	return cred, ok
}
