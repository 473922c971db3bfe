// Package copilot contains the core domain types for the comment assistant.
package copilot

import (
	"errors"
	"time"
)

// CommentType selects the rhetorical shape of a generated comment.
type CommentType string

// Supported comment types.
const (
	TypeAppreciation CommentType = "appreciation"
	TypeQuestion     CommentType = "question"
	TypeExperience   CommentType = "experience"
	TypeValueAdd     CommentType = "valueAdd"
	TypeAgreement    CommentType = "agreement"
)

// CommentTypes lists all supported types in display order.
var CommentTypes = []CommentType{
	TypeAppreciation,
	TypeQuestion,
	TypeExperience,
	TypeValueAdd,
	TypeAgreement,
}

// Valid reports whether t is a known comment type.
func (t CommentType) Valid() bool {
	switch t {
	case TypeAppreciation, TypeQuestion, TypeExperience, TypeValueAdd, TypeAgreement:
		return true
	default:
		return false
	}
}

// CommentLength selects the target word count band.
type CommentLength string

// Supported comment lengths.
const (
	LengthBrief    CommentLength = "brief"
	LengthMedium   CommentLength = "medium"
	LengthDetailed CommentLength = "detailed"
)

// DefaultLength is preselected in the widget.
const DefaultLength = LengthMedium

// Valid reports whether l is a known comment length.
func (l CommentLength) Valid() bool {
	switch l {
	case LengthBrief, LengthMedium, LengthDetailed:
		return true
	default:
		return false
	}
}

// Settings are the user's saved generation preferences.
type Settings struct {
	CommentStyle       string `json:"commentStyle"`
	Industry           string `json:"industry"`
	Goal               string `json:"goal"`
	CustomInstructions string `json:"customInstructions"`
}

// Default values for each settings field. Prompt lines for a field are
// omitted when it still holds its default.
const (
	DefaultStyle    = "professional"
	DefaultIndustry = "general"
	DefaultGoal     = "engage"
)

// WithDefaults returns a copy of s with empty fields replaced by defaults.
func (s Settings) WithDefaults() Settings {
	if s.CommentStyle == "" {
		s.CommentStyle = DefaultStyle
	}
	if s.Industry == "" {
		s.Industry = DefaultIndustry
	}
	if s.Goal == "" {
		s.Goal = DefaultGoal
	}
	return s
}

// Subscription plans.
const (
	PlanFree    = "free"
	PlanMonthly = "monthly"
	PlanAnnual  = "annual"
)

// Subscription statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Subscription is the snapshot of a user's paid-tier state returned by the
// API and cached on the extension side.
type Subscription struct {
	Status    string     `json:"status"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// User is one account record, keyed by email.
type User struct {
	Email                 string     `json:"email"`
	AuthToken             string     `json:"auth_token"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionPlan      string     `json:"subscription_plan"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Subscription returns the API-facing snapshot of the user's tier.
func (u *User) Subscription() Subscription {
	return Subscription{
		Status:    u.SubscriptionStatus,
		Plan:      u.SubscriptionPlan,
		ExpiresAt: u.SubscriptionExpiresAt,
	}
}

// SubscriptionExpired reports whether the user's paid tier has lapsed.
func (u *User) SubscriptionExpired(now time.Time) bool {
	return u.SubscriptionExpiresAt != nil && now.After(*u.SubscriptionExpiresAt)
}

// CodeRecord is one emailed one-time code. At most one live record exists
// per email; reissuing supersedes the previous one.
type CodeRecord struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its expiry.
func (c *CodeRecord) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CodeTTL is how long an issued code stays valid.
const CodeTTL = 10 * time.Minute

// HistoryEntry is one generated comment kept in the capped local history.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	PostExcerpt string    `json:"postExcerpt"`
	Comment     string    `json:"comment"`
}

// MaxHistory caps the local comment history; the oldest entry is evicted
// when a new one would exceed it.
const MaxHistory = 50

// GenerateRequest is the payload sent to the generation endpoint.
type GenerateRequest struct {
	CommentType   CommentType   `json:"commentType"`
	CommentLength CommentLength `json:"commentLength"`
	PostContent   string        `json:"postContent"`
	Settings      Settings      `json:"settings"`
}

// Auth actions accepted by verify-otp.
const (
	ActionSignup = "signup"
	ActionLogin  = "login"
)

// Domain errors. Handlers map these onto the HTTP surface; everything else
// is a server error.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired OTP")
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user does not exist")
	ErrAuthRequired         = errors.New("authentication required")
)
