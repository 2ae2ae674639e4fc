package session

import "fedifaves/internal/state"

// Phase is the session's position in the authorization chain, derived
// entirely from the current slot snapshot. Deriving the phase (instead of
// storing it) keeps the guard conditions mutually exclusive: two rules that
// both fire on one state transition see the same phase and at most one of
// them advances the chain.
//
// The transient work (registering, exchanging, fetching) happens inside a
// single rule execution, so it never appears as a stored phase.
type Phase int

const (
	// PhaseAnonymous: no app registration; the pre-authorization UI shows.
	PhaseAnonymous Phase = iota
	// PhaseAwaitingCode: an app is registered but no code or token exists;
	// the browser should be at (or heading to) the instance's authorize page.
	PhaseAwaitingCode
	// PhaseCodeCaptured: an authorization code is stored and waiting to be
	// exchanged.
	PhaseCodeCaptured
	// PhaseAuthenticated: an access token exists but no articles are cached.
	PhaseAuthenticated
	// PhaseReady: token and article cache both exist; the feed renders.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAwaitingCode:
		return "awaiting_code"
	case PhaseCodeCaptured:
		return "code_captured"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PhaseOf derives the phase from a snapshot.
//
// Token presence dominates code presence: once an access token exists the
// authorization code is ignored regardless of whether its clear has landed.
func PhaseOf(snap state.Snapshot) Phase {
	switch {
	case snap.Token != nil && snap.Cache != nil:
		return PhaseReady
	case snap.Token != nil:
		return PhaseAuthenticated
	case snap.Registration != nil && snap.AuthCode != nil:
		return PhaseCodeCaptured
	case snap.Registration != nil:
		return PhaseAwaitingCode
	default:
		return PhaseAnonymous
	}
}
