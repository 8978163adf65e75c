package callmgr

import (
	"time"

	"github.com/google/uuid"
)

// CallState tracks a call leg through its lifetime on the manager.
type CallState int

const (
	StateRinging CallState = iota
	StateActive
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Call is a live call session between two registered aliases (or, for a
// conference, a set of them). The CallIDMapper treats a *Call as opaque —
// it binds and resolves the pointer but never reads these fields; they
// exist for the CallManager.
type Call struct {
	Caller     string
	Callee     string
	State      CallState
	Conference bool
	Members    []string // conference members; nil for a two-party call
	Started    time.Time
}

func NewCall(caller, callee string) *Call {
	return &Call{
		Caller:  caller,
		Callee:  callee,
		State:   StateRinging,
		Started: time.Now(),
	}
}

// NewConference builds the call object that stands in for merged legs.
// The first member is the conference host; audio for the conference is
// relayed to the host for mixing.
func NewConference(members ...string) *Call {
	return &Call{
		State:      StateActive,
		Conference: true,
		Members:    members,
		Started:    time.Now(),
	}
}

// Host returns the conference host alias ("" for a two-party call).
func (c *Call) Host() string {
	if !c.Conference || len(c.Members) == 0 {
		return ""
	}
	return c.Members[0]
}

// Peer returns the other party of a two-party call, resolving from either
// end. Returns "" when `alias` is not a party to the call.
func (c *Call) Peer(alias string) string {
	switch alias {
	case c.Caller:
		return c.Callee
	case c.Callee:
		return c.Caller
	}
	return ""
}

// confIDPrefix marks ids minted for conference calls. It is a naming
// convention, not a validation rule: IsValidConferenceID accepts any
// non-empty string.
const confIDPrefix = "conf-"

// NewConferenceID mints an id for a conference call. Conference ids carry
// no mapper prefix; they satisfy IsValidConferenceID but never
// IsValidCallID.
func NewConferenceID() string {
	return confIDPrefix + uuid.NewString()
}
