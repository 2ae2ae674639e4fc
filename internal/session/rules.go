package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"fedifaves/internal/masto"
	"fedifaves/internal/state"
)

// rule is one guarded reactive step of the session chain.
//
// when selects the triggers the rule watches; guard decides, from the
// current snapshot alone, whether the effect should run for this trigger;
// apply performs any remote calls and returns the slot writes plus browser
// effects. apply must be idempotent under re-trigger with unchanged inputs
// and must not write anything itself - the engine applies the Change only
// after re-checking the guard against a fresh snapshot.
type rule struct {
	name  string
	when  func(t Trigger) bool
	guard func(snap state.Snapshot, t Trigger) bool
	apply func(ctx context.Context, snap state.Snapshot, t Trigger) (state.Change, Effects, error)
}

// rules are evaluated in declaration order. Logout precedes RegisterApp so
// that, were both ever to apply to one event, logout wins.
func (e *Engine) buildRules() []rule {
	return []rule{
		e.logoutRule(),
		e.registerAppRule(),
		e.redirectToAuthorizeRule(),
		e.captureAuthorizationCodeRule(),
		e.exchangeTokenRule(),
		e.fetchArticlesRule(),
		e.renderOutputRule(),
	}
}

// logoutRule clears every slot unconditionally and sends the browser home.
func (e *Engine) logoutRule() rule {
	return rule{
		name: "logout",
		when: func(t Trigger) bool { return t.Kind == TriggerLogout },
		guard: func(state.Snapshot, Trigger) bool {
			return true
		},
		apply: func(_ context.Context, _ state.Snapshot, _ Trigger) (state.Change, Effects, error) {
			return state.Change{Clear: state.Slots}, Effects{Navigate: e.basePath}, nil
		},
	}
}

// registerAppRule registers a new OAuth client with the target instance and
// starts a fresh session: any previous code, token, and cache are cleared
// alongside the new registration.
func (e *Engine) registerAppRule() rule {
	return rule{
		name: "register_app",
		when: func(t Trigger) bool { return t.Kind == TriggerAuthorize },
		guard: func(_ state.Snapshot, t Trigger) bool {
			return state.NormalizeInstance(t.Instance) != ""
		},
		apply: func(ctx context.Context, _ state.Snapshot, t Trigger) (state.Change, Effects, error) {
			instance := state.NormalizeInstance(t.Instance)

			creds, err := e.remote.RegisterApp(ctx, instance, e.appName, e.scopes, e.redirectURI)
			if err != nil {
				return state.Change{}, Effects{}, err
			}

			reg := &state.AppRegistration{
				ClientID:     e.codec.Obscure(creds.ClientID),
				ClientSecret: e.codec.Obscure(creds.ClientSecret),
				Instance:     instance,
			}
			return state.Change{
				SetRegistration: reg,
				Clear:           []state.Slot{state.SlotAuthCode, state.SlotAccessToken, state.SlotArticleCache},
			}, Effects{}, nil
		},
	}
}

// redirectToAuthorizeRule reacts to a registration change by sending the
// browser to the instance's authorize page. When the chain is already past
// that point (a code or token exists) or the registration vanished, the
// browser is reset to the base path instead.
//
// An in-progress auth callback cannot race this rule here: callbacks arrive
// as TriggerCallback and never write the registration slot, so a
// registration change never coincides with one.
func (e *Engine) redirectToAuthorizeRule() rule {
	return rule{
		name: "redirect_to_authorize",
		when: func(t Trigger) bool {
			return t.Kind == TriggerSlotChanged && t.Slot == state.SlotRegistration
		},
		guard: func(state.Snapshot, Trigger) bool {
			return true // the skip paths still navigate, see apply
		},
		apply: func(_ context.Context, snap state.Snapshot, _ Trigger) (state.Change, Effects, error) {
			if snap.Registration == nil || snap.AuthCode != nil || snap.Token != nil {
				return state.Change{}, Effects{Navigate: e.basePath}, nil
			}

			creds, err := e.revealCredentials(*snap.Registration)
			if err != nil {
				return state.Change{}, Effects{}, err
			}
			authorize := e.remote.AuthorizeURL(snap.Registration.Instance, creds, e.redirectURI, e.scopes)
			return state.Change{}, Effects{Navigate: authorize}, nil
		},
	}
}

// captureAuthorizationCodeRule extracts the code from the callback query
// string and stores it, obscured. Write-once: with a code or token already
// present the guard fails and a replayed callback changes nothing.
func (e *Engine) captureAuthorizationCodeRule() rule {
	return rule{
		name: "capture_authorization_code",
		when: func(t Trigger) bool { return t.Kind == TriggerCallback },
		guard: func(snap state.Snapshot, t Trigger) bool {
			return strings.HasPrefix(t.Query, "code") &&
				snap.Registration != nil &&
				snap.Registration.Instance != "" &&
				snap.AuthCode == nil &&
				snap.Token == nil
		},
		apply: func(_ context.Context, _ state.Snapshot, t Trigger) (state.Change, Effects, error) {
			values, err := url.ParseQuery(t.Query)
			if err != nil {
				return state.Change{}, Effects{}, fmt.Errorf("parse callback query: %w", err)
			}
			code := values.Get("code")
			if code == "" {
				return state.Change{}, Effects{Navigate: e.basePath}, nil
			}
			return state.Change{
				SetAuthCode: &state.AuthorizationCode{Code: e.codec.Obscure(code)},
			}, Effects{Navigate: e.basePath}, nil
		},
	}
}

// exchangeTokenRule trades the stored code for an access token. On success
// the code is cleared in the same change, keeping the code/token lifecycles
// mutually exclusive. On failure nothing is written, and re-entering the
// flow from RegisterApp retriggers cleanly.
func (e *Engine) exchangeTokenRule() rule {
	return rule{
		name: "exchange_token",
		when: func(t Trigger) bool {
			return t.Kind == TriggerSlotChanged && t.Slot == state.SlotAuthCode
		},
		guard: func(snap state.Snapshot, _ Trigger) bool {
			return snap.AuthCode != nil && snap.Token == nil && snap.Registration != nil
		},
		apply: func(ctx context.Context, snap state.Snapshot, _ Trigger) (state.Change, Effects, error) {
			creds, err := e.revealCredentials(*snap.Registration)
			if err != nil {
				return state.Change{}, Effects{}, err
			}
			code, err := e.codec.Reveal(snap.AuthCode.Code)
			if err != nil {
				return state.Change{}, Effects{}, err
			}

			token, err := e.remote.ExchangeCode(ctx, snap.Registration.Instance, creds, code, e.redirectURI, e.scopes)
			if err != nil {
				return state.Change{}, Effects{}, err
			}
			return state.Change{
				SetToken: &state.AccessToken{Token: e.codec.Obscure(token)},
				Clear:    []state.Slot{state.SlotAuthCode},
			}, Effects{}, nil
		},
	}
}

// fetchArticlesRule pulls new favourites and bookmarks since the cached
// cursors. The feed engine's freshness window decides whether any remote
// call happens; an unchanged cache writes nothing.
func (e *Engine) fetchArticlesRule() rule {
	return rule{
		name: "fetch_articles",
		when: func(t Trigger) bool {
			return t.Kind == TriggerRefresh ||
				(t.Kind == TriggerSlotChanged && t.Slot == state.SlotAccessToken)
		},
		guard: func(snap state.Snapshot, _ Trigger) bool {
			return snap.Token != nil && snap.Registration != nil
		},
		apply: func(ctx context.Context, snap state.Snapshot, _ Trigger) (state.Change, Effects, error) {
			token, err := e.codec.Reveal(snap.Token.Token)
			if err != nil {
				return state.Change{}, Effects{}, err
			}

			cache, updated, err := e.feed.Refresh(ctx, snap.Registration.Instance, token, snap.Cache)
			if err != nil {
				return state.Change{}, Effects{}, err
			}
			if !updated {
				return state.Change{}, Effects{}, nil
			}
			return state.Change{SetCache: &cache}, Effects{}, nil
		},
	}
}

// renderOutputRule reacts to cache changes, including clears. Rendering
// itself is pulled by the web layer from the store; this rule only
// notifies the hook and logs.
func (e *Engine) renderOutputRule() rule {
	return rule{
		name: "render_output",
		when: func(t Trigger) bool {
			return t.Kind == TriggerSlotChanged && t.Slot == state.SlotArticleCache
		},
		guard: func(state.Snapshot, Trigger) bool {
			return true // a cleared cache is also a render-relevant change
		},
		apply: func(_ context.Context, snap state.Snapshot, _ Trigger) (state.Change, Effects, error) {
			if e.onCacheUpdated != nil {
				var cache state.ArticleCache
				if snap.Cache != nil {
					cache = *snap.Cache
				}
				e.onCacheUpdated(cache)
			}
			return state.Change{}, Effects{}, nil
		},
	}
}

func (e *Engine) revealCredentials(reg state.AppRegistration) (masto.Credentials, error) {
	clientID, err := e.codec.Reveal(reg.ClientID)
	if err != nil {
		return masto.Credentials{}, err
	}
	clientSecret, err := e.codec.Reveal(reg.ClientSecret)
	if err != nil {
		return masto.Credentials{}, err
	}
	return masto.Credentials{ClientID: clientID, ClientSecret: clientSecret}, nil
}
