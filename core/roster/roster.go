// Package roster resolves chat authors to their organizational role and
// roles to reply kinds. The roster file is loaded once at process start
// and treated as read-only for the process lifetime.
package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Member struct {
	UserID      int64  `yaml:"user_id"`
	Handle      string `yaml:"handle"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
}

type file struct {
	Users []Member `yaml:"users"`
	// ReplyKinds maps an author role to the reply_kind tag recorded when
	// somebody replies to a message by an author in that role. Open
	// taxonomy: roles and kinds are whatever the file says.
	ReplyKinds map[string]string `yaml:"reply_kinds"`
}

type Roster struct {
	byID       map[int64]Member
	replyKinds map[string]string
}

// Load parses a roster YAML file. A missing optional file yields an empty
// roster rather than an error so deployments without one still ingest.
func Load(path string) (*Roster, error) {
	if path == "" {
		return empty(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Roster, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	r := empty()
	for _, m := range f.Users {
		if m.UserID == 0 {
			return nil, fmt.Errorf("roster user with handle %q has no user_id", m.Handle)
		}
		m.Role = strings.TrimSpace(m.Role)
		r.byID[m.UserID] = m
	}
	for role, kind := range f.ReplyKinds {
		role = strings.TrimSpace(role)
		kind = strings.TrimSpace(kind)
		if role == "" || kind == "" {
			continue
		}
		r.replyKinds[role] = kind
	}
	return r, nil
}

func empty() *Roster {
	return &Roster{
		byID:       map[int64]Member{},
		replyKinds: map[string]string{},
	}
}

// RoleOf returns the configured role for an author, or "" when unknown.
func (r *Roster) RoleOf(userID int64) string {
	if r == nil {
		return ""
	}
	return r.byID[userID].Role
}

// ReplyKindForRole maps the referenced author's role onto the reply_kind
// tag. Unknown roles yield ok=false: never a guess.
func (r *Roster) ReplyKindForRole(role string) (string, bool) {
	if r == nil {
		return "", false
	}
	kind, ok := r.replyKinds[strings.TrimSpace(role)]
	return kind, ok
}

func (r *Roster) Size() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}
