package topology

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/attaradev/nats-pubsub-sub004/subject"
)

// Conflict names a pair of subjects whose patterns overlap across two
// different streams.
type Conflict struct {
	DesiredSubject  string
	ExistingStream  string
	ExistingSubject string
}

func (c Conflict) String() string {
	return fmt.Sprintf("(%s, %s)", c.DesiredSubject, c.ExistingSubject)
}

// ConflictError is raised when OverlapGuard.Check finds overlap that
// the caller asked to be treated as fatal.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("topology conflict: %s", strings.Join(parts, ", "))
}

// OverlapGuard lists other streams via the bus admin API and reports
// overlapping subject pairs against a candidate set of desired
// subjects.
type OverlapGuard struct {
	js nats.JetStreamContext
}

// NewOverlapGuard returns an OverlapGuard backed by js.
func NewOverlapGuard(js nats.JetStreamContext) *OverlapGuard {
	return &OverlapGuard{js: js}
}

// conflicts returns every (desiredSubject, existingStream, existingSubject)
// triple where an existing stream other than excludeStream has a subject
// overlapping a subject in desired.
func (g *OverlapGuard) conflicts(desired []string, excludeStream string) ([]Conflict, error) {
	var out []Conflict
	for info := range g.js.StreamsInfo() {
		if info == nil || info.Config.Name == excludeStream {
			continue
		}
		for _, d := range desired {
			for _, existing := range info.Config.Subjects {
				if subject.Overlap(d, existing) {
					out = append(out, Conflict{
						DesiredSubject:  d,
						ExistingStream:  info.Config.Name,
						ExistingSubject: existing,
					})
				}
			}
		}
	}
	return out, nil
}

// Check raises a *ConflictError if any subject in desired overlaps a
// subject owned by a stream other than excludeStream.
func (g *OverlapGuard) Check(desired []string, excludeStream string) error {
	conflicts, err := g.conflicts(desired, excludeStream)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// PartitionAllowed splits desired into subjects with no conflict
// (allowed) and subjects that overlap an existing stream's subjects
// (blocked), along with the conflicts found for the blocked subset.
func (g *OverlapGuard) PartitionAllowed(desired []string, excludeStream string) (allowed, blocked []string, conflicts []Conflict, err error) {
	conflicts, err = g.conflicts(desired, excludeStream)
	if err != nil {
		return nil, nil, nil, err
	}

	blockedSet := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		blockedSet[c.DesiredSubject] = true
	}

	for _, d := range desired {
		if blockedSet[d] {
			blocked = append(blocked, d)
		} else {
			allowed = append(allowed, d)
		}
	}
	return allowed, blocked, conflicts, nil
}
