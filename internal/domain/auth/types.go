package auth

// Package auth contains domain-level types for the operator session.
// It is pure and free of framework/adapter concerns.

import (
	"encoding/json"

	apperrors "github.com/target/congress-backoffice/internal/errors"
)

// RoleID is the numeric role tag carried on backend user records.
type RoleID int

// RoleIDAdmin is the reserved administrator role value.
const RoleIDAdmin RoleID = 1

// User is the identity record returned by GET /auth/profile.
// Only ID, names, Email and RoleID are interpreted here; the rest is passed through.
type User struct {
	ID                   string  `json:"id"`
	Email                string  `json:"email"`
	FirstName            string  `json:"firstName"`
	LastName             string  `json:"lastName"`
	RoleID               RoleID  `json:"roleId"`
	Gender               string  `json:"gender,omitempty"`
	Phone                string  `json:"phone,omitempty"`
	Address              string  `json:"address,omitempty"`
	Country              string  `json:"country,omitempty"`
	AutonomousCommunity  string  `json:"autonomousCommunity,omitempty"`
	Province             *string `json:"province,omitempty"`
	ProfessionalCategory string  `json:"professionalCategory,omitempty"`
	Interests            string  `json:"interests,omitempty"`
	Verified             int     `json:"verified,omitempty"`
	State                string  `json:"state,omitempty"`
	CreatedAt            string  `json:"createdAt,omitempty"`
	UpdatedAt            string  `json:"updatedAt,omitempty"`

	// Extra keeps profile attributes this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

// DisplayName joins the name parts, falling back to the e-mail address.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Email
	}
}

// FailureKind classifies why an identity resolution failed.
// The guard never sees it; it is exposed for diagnostics only.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureNetwork      FailureKind = "network_error"
	FailureInvalidToken FailureKind = "invalid_token"
	FailureServer       FailureKind = "server_error"
)

// ClassifyFailure maps a profile fetch error onto a FailureKind.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeUnauthorized:
		return FailureInvalidToken
	case apperrors.ErrCodeUnavailable:
		return FailureNetwork
	default:
		return FailureServer
	}
}

// Snapshot is a copy of the session state at one point in time.
type Snapshot struct {
	Token       string
	User        *User
	Loading     bool
	LastFailure FailureKind
}

// IsAdmin reports whether the resolved user holds the administrator role.
func (s Snapshot) IsAdmin() bool {
	return s.User != nil && s.User.RoleID == RoleIDAdmin
}

// Authenticated reports whether both a token and a resolved user are present.
func (s Snapshot) Authenticated() bool {
	return s.Token != "" && s.User != nil
}

// State names the guard state for the snapshot.
func (s Snapshot) State() State {
	switch Decide(s) {
	case GuardWait:
		return StatePending
	case GuardRender:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// State is one of the three session states seen by the route guard.
type State string

const (
	StatePending         State = "pending"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

// GuardDecision is what a route guard does with a snapshot.
type GuardDecision int

const (
	// GuardWait shows a waiting indicator and nothing else.
	GuardWait GuardDecision = iota
	// GuardRedirect sends the visitor to the login view and renders nothing.
	GuardRedirect
	// GuardRender renders the protected content unchanged.
	GuardRender
)

func (d GuardDecision) String() string {
	switch d {
	case GuardWait:
		return "wait"
	case GuardRedirect:
		return "redirect"
	case GuardRender:
		return "render"
	default:
		return "unknown"
	}
}

// Decide is the route guard as a pure function of the session snapshot.
func Decide(s Snapshot) GuardDecision {
	if s.Loading {
		return GuardWait
	}
	if !s.Authenticated() {
		return GuardRedirect
	}
	return GuardRender
}
