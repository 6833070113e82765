// Package transcript accumulates streamed transcription fragments into
// whole conversation turns.
//
// Fragments arrive out of band with the audio and carry no boundaries of
// their own: the remote agent streams partial text for both the caller and
// itself as recognition progresses. The [Aggregator] buffers fragments per
// role verbatim (no whitespace normalization, no deduplication) and
// finalizes both buffers into committed [Turn] values when the session
// signals a turn boundary.
package transcript

import (
	"sync"
	"time"
)

// Role identifies which side of the conversation a fragment belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one committed side of a conversation exchange.
type Turn struct {
	// Role is the speaker this turn belongs to.
	Role Role

	// Text is the concatenation of every fragment appended for Role since
	// the previous commit, exactly as received. It may be empty: a turn
	// boundary commits both sides even when one produced no text.
	Text string

	// CommittedAt is the local time of the commit.
	CommittedAt time.Time
}

// Aggregator buffers transcription fragments per role until a turn
// boundary commits them. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	user  []byte
	agent []byte
	now   func() time.Time
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Append adds one fragment to the given role's pending buffer. Fragments
// are concatenated byte for byte; the remote side owns spacing and
// punctuation. Fragments for unknown roles are dropped.
func (a *Aggregator) Append(role Role, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch role {
	case RoleUser:
		a.user = append(a.user, text...)
	case RoleAgent:
		a.agent = append(a.agent, text...)
	}
}

// Partial returns the pending (uncommitted) text for role.
func (a *Aggregator) Partial(role Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch role {
	case RoleUser:
		return string(a.user)
	case RoleAgent:
		return string(a.agent)
	}
	return ""
}

// CommitTurn finalizes both pending buffers into committed turns, user
// side first, and clears them. Both turns are always returned, even when a
// side is empty, so the caller sees every boundary the session produced.
func (a *Aggregator) CommitTurn() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := a.now()
	turns := []Turn{
		{Role: RoleUser, Text: string(a.user), CommittedAt: at},
		{Role: RoleAgent, Text: string(a.agent), CommittedAt: at},
	}
	a.user = a.user[:0]
	a.agent = a.agent[:0]
	return turns
}
