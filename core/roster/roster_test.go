package roster

import (
	"path/filepath"
	"testing"
)

var sampleRosterYAML = []byte(`
users:
  - user_id: 1001
    handle: alice
    display_name: Alice
    role: escalation
  - user_id: 2002
    handle: bob
    display_name: Bob
    role: service
reply_kinds:
  service: response
  escalation: escalation
`)

func TestParseRoster(t *testing.T) {
	r, err := Parse(sampleRosterYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Size() != 2 {
		t.Fatalf("expected 2 members, got %d", r.Size())
	}
	if got := r.RoleOf(1001); got != "escalation" {
		t.Fatalf("wrong role for 1001: %q", got)
	}
	if got := r.RoleOf(9999); got != "" {
		t.Fatalf("unknown user must have empty role, got %q", got)
	}
}

func TestReplyKindForRole(t *testing.T) {
	r, err := Parse(sampleRosterYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if kind, ok := r.ReplyKindForRole("service"); !ok || kind != "response" {
		t.Fatalf("expected response, got %q ok=%v", kind, ok)
	}
	if _, ok := r.ReplyKindForRole("bystander"); ok {
		t.Fatalf("unmapped role must yield ok=false")
	}
	if _, ok := r.ReplyKindForRole(""); ok {
		t.Fatalf("empty role must yield ok=false")
	}
}

func TestParseRejectsMemberWithoutID(t *testing.T) {
	_, err := Parse([]byte(`
users:
  - handle: ghost
    role: service
`))
	if err == nil {
		t.Fatalf("expected error for member without user_id")
	}
}

func TestLoadMissingFileYieldsEmptyRoster(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing optional file must not error: %v", err)
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty roster")
	}
	if got := r.RoleOf(1); got != "" {
		t.Fatalf("empty roster role lookup: %q", got)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty roster")
	}
}
