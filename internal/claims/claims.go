// Package claims implements the at-most-once reservation protocol for
// course-section sends.
//
// A SendUnit is the dedupe granularity: one (domain, course, section,
// term) combination. Before messaging a unit a caller claims it; the
// store guarantees at most one pending-or-sent claim per unit, so when
// several independent daemons race, exactly one wins. Won claims are
// marked sent after delivery or released on failure so the unit
// becomes claimable again.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a claim id does not exist.
	ErrNotFound = errors.New("claim not found")
	// ErrNotPending is returned by MarkSent when the claim is missing
	// or no longer pending; it never silently marks a different row.
	ErrNotPending = errors.New("claim is not pending")
)

// SectionRef distinguishes "a specific section" from "the whole
// course" without overloading a zero id.
type SectionRef struct {
	ID   int64
	Wide bool // course-wide unit, no section
}

// Section refers to one section by id.
func Section(id int64) SectionRef { return SectionRef{ID: id} }

// WholeCourse refers to a course with no sections.
func WholeCourse() SectionRef { return SectionRef{Wide: true} }

// Canonical maps the ref onto the datastore's section-id axis. Zero is
// the course-wide sentinel; the platform never issues section id 0.
func (r SectionRef) Canonical() int64 {
	if r.Wide {
		return 0
	}
	return r.ID
}

func (r SectionRef) String() string {
	if r.Wide {
		return "course-wide"
	}
	return fmt.Sprintf("section %d", r.ID)
}

// SendUnit is the atomic dedupe key.
type SendUnit struct {
	Domain   string
	CourseID int64
	Section  SectionRef
	TermKey  string
}

func (u SendUnit) String() string {
	return fmt.Sprintf("%s course %d %s term %s", u.Domain, u.CourseID, u.Section, u.TermKey)
}

// Status of a claim row. Released claims have no status: the row is
// deleted, and a later claim re-creates a fresh pending one.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// ClaimRequest carries the unit plus display metadata the datastore
// keeps for reporting. Only Unit participates in uniqueness.
type ClaimRequest struct {
	Unit        SendUnit
	CourseCode  string
	CourseName  string
	SectionName string
	TermLabel   string
	LinkURL     string
	Sender      string
}

// ClaimResult reports the outcome of a claim attempt. When
// AlreadyExists is true the ID references the row some other caller
// owns and this caller must not touch it.
type ClaimResult struct {
	ID            string
	AlreadyExists bool
	Status        Status
}

// SentMeta is the delivery metadata recorded on a successful send.
type SentMeta struct {
	LinkURL        string
	RecipientCount int
	BatchCount     int
}

// Store is the claim datastore contract. Claim must be atomic on the
// server side: concurrent claims for one unit resolve to exactly one
// AlreadyExists=false winner. Never check-then-insert from the client.
type Store interface {
	Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error)
	MarkSent(ctx context.Context, id string, meta SentMeta) error
	Release(ctx context.Context, id string) error
	ListSent(ctx context.Context, domain string, courseID int64, termKey string) ([]SendUnit, error)
	Close() error
}

// Sweeper is implemented by stores that can recover leaked claims:
// pending rows abandoned by a run that died mid-flight.
type Sweeper interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}
