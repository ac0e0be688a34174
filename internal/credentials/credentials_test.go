package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no comments", `{"a": 1}`, `{"a": 1}`},
		{"line comment", "{\n  // a comment\n  \"a\": 1\n}", "{\n  \n  \"a\": 1\n}"},
		{"block comment", `{"a": /* inline */ 1}`, `{"a":  1}`},
		{"comment-like text in string", `{"a": "http://example.com"}`, `{"a": "http://example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(StripComments([]byte(tt.in)))
			if got != tt.want {
				t.Errorf("StripComments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.cnf")

	contents := `{
  // credentials for the roster topic
  "roster": {"ltiKey": "key1", "ltiSecret": "secret1"},
  "grades": {"ltiKey": "key2", "ltiSecret": "secret2"}
}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cred, ok := table.Lookup("roster")
	if !ok {
		t.Fatalf("expected roster to be present")
	}
	if cred.LTIKey != "key1" || cred.LTISecret != "secret1" {
		t.Errorf("got %+v, want key1/secret1", cred)
	}

	if _, ok := table.Lookup("unknown"); ok {
		t.Errorf("expected unknown topic to be absent")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/creds.cnf"); err == nil {
		t.Fatalf("expected an error loading a missing credential file")
	}
}
