package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedifaves/internal/feed"
	"fedifaves/internal/masto"
	"fedifaves/internal/secret"
	"fedifaves/internal/session"
	"fedifaves/internal/state"
)

const testBasePath = "/dash/fedifaves/"

type stubRemote struct {
	creds       masto.Credentials
	accessToken string
}

func (r *stubRemote) RegisterApp(context.Context, string, string, []string, string) (masto.Credentials, error) {
	return r.creds, nil
}

func (r *stubRemote) AuthorizeURL(instance string, creds masto.Credentials, redirectURI string, scopes []string) string {
	return masto.NewClient("test").AuthorizeURL(instance, creds, redirectURI, scopes)
}

func (r *stubRemote) ExchangeCode(context.Context, string, masto.Credentials, string, string, []string) (string, error) {
	return r.accessToken, nil
}

type stubSource struct {
	faves     masto.Page
	bookmarks masto.Page
}

func (s *stubSource) Favourites(context.Context, string, string, string, int) (masto.Page, error) {
	return s.faves, nil
}

func (s *stubSource) Bookmarks(context.Context, string, string, string, int) (masto.Page, error) {
	return s.bookmarks, nil
}

// newTestServer wires the full stack behind an httptest server.
func newTestServer(t *testing.T) (*httptest.Server, *state.Store) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	codec, err := secret.NewCodec(secret.NewRandomKey())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := &stubRemote{
		creds:       masto.Credentials{ClientID: "cid-1", ClientSecret: "csec-1"},
		accessToken: "tok-1",
	}
	source := &stubSource{
		faves: masto.Page{
			Statuses: []masto.Status{{
				ID:        "205",
				CreatedAt: now.Add(-1 * time.Hour),
				URL:       "https://example.social/@a/205",
				Account:   masto.Account{Acct: "a@example.social"},
				Card:      &masto.Card{URL: "https://blog.example/fave", Title: "fave"},
			}},
			NextMinID: "205",
		},
	}

	eng := session.New(store, codec, remote,
		feed.NewWithNow(source, func() time.Time { return now }),
		session.Config{
			AppName:   "fedifaves",
			Scopes:    []string{"read"},
			BasePath:  testBasePath,
			PublicURL: "http://localhost:8080",
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv, err := New(eng, store, testBasePath, WithLocation(time.UTC))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

// noFollow inspects redirects instead of chasing them.
func noFollow(ts *httptest.Server) *http.Client {
	c := *ts.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func get(t *testing.T, c *http.Client, rawURL string) *http.Response {
	t.Helper()
	resp, err := c.Get(rawURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func postForm(t *testing.T, c *http.Client, rawURL string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(rawURL, form)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestIndex_Anonymous(t *testing.T) {
	ts, _ := newTestServer(t)
	c := noFollow(ts)

	resp := get(t, c, ts.URL+testBasePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := body(t, resp)
	assert.Contains(t, page, "Authorize Instance")
	assert.Contains(t, page, "No articles yet")
	assert.NotContains(t, page, "Log Out")
}

func TestAuthorize_RedirectsToInstance(t *testing.T) {
	ts, _ := newTestServer(t)
	c := noFollow(ts)

	resp := postForm(t, c, ts.URL+testBasePath+"authorize",
		url.Values{"instance": {"example.social"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	loc := resp.Header.Get("Location")
	assert.Contains(t, loc, "example.social/oauth/authorize")
	assert.Contains(t, loc, "client_id=cid-1")
}

func TestAuthorize_EmptyInstanceStaysOnDashboard(t *testing.T) {
	ts, store := newTestServer(t)
	c := noFollow(ts)

	resp := postForm(t, c, ts.URL+testBasePath+"authorize", url.Values{"instance": {""}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, testBasePath, resp.Header.Get("Location"))

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Registration)
}

func TestAuthCallback_CompletesLogin(t *testing.T) {
	ts, store := newTestServer(t)
	c := noFollow(ts)

	postForm(t, c, ts.URL+testBasePath+"authorize", url.Values{"instance": {"example.social"}})

	resp := get(t, c, ts.URL+testBasePath+"auth?code=abc123")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, testBasePath, resp.Header.Get("Location"))

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Token)
	require.NotNil(t, snap.Cache)
	assert.Nil(t, snap.AuthCode)

	page := body(t, get(t, c, ts.URL+testBasePath))
	assert.Contains(t, page, "Log Out")
	assert.Contains(t, page, "Refresh")
	assert.Contains(t, page, "a@example.social")
}

func TestLogout_ClearsSession(t *testing.T) {
	ts, store := newTestServer(t)
	c := noFollow(ts)

	postForm(t, c, ts.URL+testBasePath+"authorize", url.Values{"instance": {"example.social"}})
	get(t, c, ts.URL+testBasePath+"auth?code=abc123")

	resp := postForm(t, c, ts.URL+testBasePath+"logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, testBasePath, resp.Header.Get("Location"))

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Registration)
	assert.Nil(t, snap.Token)
	assert.Nil(t, snap.Cache)
}

func TestNotFound_RedirectsToDashboard(t *testing.T) {
	ts, _ := newTestServer(t)
	c := noFollow(ts)

	resp := get(t, c, ts.URL+"/somewhere/else")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, testBasePath, resp.Header.Get("Location"))
}

func TestIndex_RenderedFeed(t *testing.T) {
	ts, store := newTestServer(t)
	c := noFollow(ts)

	err := store.Apply(context.Background(), state.Change{
		SetRegistration: &state.AppRegistration{
			ClientID:     "cid-1",
			ClientSecret: "csec-1",
			Instance:     "example.social",
		},
		SetToken: &state.AccessToken{Token: "tok-1"},
		SetCache: &state.ArticleCache{
			FavoriteCursor: "205",
			BookmarkCursor: "150",
			Posts: []state.Post{
				{
					ID:               "205",
					Date:             time.Date(2024, 3, 1, 15, 4, 0, 0, time.UTC),
					Account:          "a@example.social",
					DisplayName:      "Ada",
					StatusURL:        "https://example.social/@a/205",
					Title:            "A Good Read",
					Description:      "Short description.",
					URL:              "https://blog.example/good-read",
					ImageURL:         "https://files.example/preview.png",
					InteractionCount: 6,
					IsFavorite:       true,
				},
				{
					ID:               "150",
					Date:             time.Date(2024, 2, 28, 9, 30, 0, 0, time.UTC),
					Account:          "b@example.social",
					DisplayName:      "Ben",
					StatusURL:        "https://example.social/@b/150",
					Title:            "Another Read",
					URL:              "https://blog.example/another",
					CardImageURL:     "https://files.example/card.png",
					InteractionCount: 1,
					IsBookmark:       true,
				},
			},
			LastFetchedAt: time.Date(2024, 3, 1, 15, 10, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	resp := get(t, c, ts.URL+testBasePath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	g := goldie.New(t)
	g.Assert(t, "index_ready", []byte(body(t, resp)))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxDescriptionRunes+1)
	assert.Equal(t, strings.Repeat("é", maxDescriptionRunes)+"...", truncate(long, maxDescriptionRunes))
	assert.Equal(t, "short", truncate("short", maxDescriptionRunes))
}
