package session

import "fedifaves/internal/state"

// TriggerKind distinguishes the events that can wake the rule set.
type TriggerKind int

const (
	// TriggerAuthorize is the explicit "authorize" user action, carrying
	// the instance hostname from the form.
	TriggerAuthorize TriggerKind = iota + 1
	// TriggerLogout is the explicit "logout" user action.
	TriggerLogout
	// TriggerCallback is a browser-location change: the instance redirected
	// back with a query string.
	TriggerCallback
	// TriggerRefresh is the manual refresh action.
	TriggerRefresh
	// TriggerSlotChanged is an internal follow-on event: a rule set or
	// cleared Slot, and rules watching that slot must re-evaluate.
	TriggerSlotChanged
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerAuthorize:
		return "authorize"
	case TriggerLogout:
		return "logout"
	case TriggerCallback:
		return "callback"
	case TriggerRefresh:
		return "refresh"
	case TriggerSlotChanged:
		return "slot_changed"
	default:
		return "unknown"
	}
}

// Trigger is one event for the rule loop.
type Trigger struct {
	Kind TriggerKind

	// Instance is the form-supplied hostname (TriggerAuthorize only).
	Instance string

	// Query is the raw callback query string, without the leading "?"
	// (TriggerCallback only).
	Query string

	// Slot names the changed slot (TriggerSlotChanged only).
	Slot state.Slot

	// FlowToken correlates every rule firing caused by one external
	// trigger. Follow-on triggers inherit it, never regenerate it.
	FlowToken string

	// Seq is the logical-clock stamp assigned at enqueue.
	Seq int64
}

// Effects is what a trigger asks of the outside world beyond slot writes.
type Effects struct {
	// Navigate is a full-page browser navigation target: either the remote
	// authorize URL or the application's own base path. Empty means stay.
	Navigate string
}
