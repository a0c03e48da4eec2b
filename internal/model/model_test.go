package model

import (
	"regexp"
	"strings"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewJobIDPrefix(t *testing.T) {
	id := NewJobID("party-a")
	suffix, ok := strings.CutPrefix(id, "party-a-")
	if !ok {
		t.Fatalf("NewJobID() = %q, want prefix %q", id, "party-a-")
	}
	if !crockfordBase32.MatchString(suffix) {
		t.Errorf("job id suffix %q is not a ULID", suffix)
	}
}

func TestValidJobTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusWaiting, StatusProposal, true},
		{StatusWaiting, StatusFailed, true},
		{StatusWaiting, StatusRunning, false},
		{StatusProposal, StatusRunning, true},
		{StatusProposal, StatusFailed, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailed, true},
		{StatusFailed, StatusRunning, false},
		{StatusSuccess, StatusFailed, false},
		{StatusNotFound, StatusWaiting, false},
	}
	for _, tt := range tests {
		if got := ValidJobTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidJobTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidTaskTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{TaskPending, TaskRunning, true},
		{TaskPending, TaskCompleted, false},
		{TaskRunning, TaskCompleted, true},
		{TaskRunning, TaskFailed, true},
		{TaskCompleted, TaskRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTaskTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTaskTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
