package canvas

import "time"

// Course is the slice of the platform's course object this system
// reads. Term metadata is requested via include[]=term and may be
// absent or unusable, in which case the date fields drive term
// matching.
type Course struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	CourseCode string     `json:"course_code"`
	StartAt    *time.Time `json:"start_at"`
	EndAt      *time.Time `json:"end_at"`
	Term       *EnrollTerm `json:"term,omitempty"`
}

// EnrollTerm is the course's enrollment term as reported by the API.
type EnrollTerm struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
}

// TermLabel returns the best human term label the course carries.
func (c Course) TermLabel() string {
	if c.Term != nil {
		return c.Term.Name
	}
	return ""
}

type Section struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	CourseID int64  `json:"course_id"`
}

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name,omitempty"`
}

// DisplayName prefers the search-surface full name over the short one.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Name
}

// Profile is the calling user's own profile.
type Profile struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PrimaryEmail string `json:"primary_email"`
	LoginID      string `json:"login_id"`
}

// Resolution is the outcome of a recipient search: either a single
// confident choice, or up to ten candidates for a human to pick from.
type Resolution struct {
	Chosen     *User
	Candidates []User
}

// DeliveryResult reports one accepted batch send.
type DeliveryResult struct {
	Recipients      int
	ConversationIDs []int64
}
