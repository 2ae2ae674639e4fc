package masto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport redirects every request to the stub server while keeping
// the production path and query construction under test.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	hc := &http.Client{Transport: rewriteTransport{target: target}}
	return NewClientWithHTTP(hc, "fedifaves-test")
}

func TestRegisterApp(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/apps", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{
			"client_id":     "cid-1",
			"client_secret": "csec-1",
		})
	}))
	defer srv.Close()

	creds, err := testClient(t, srv).RegisterApp(context.Background(),
		"example.social", "fedifaves", []string{"read"}, "http://localhost/dash/fedifaves/auth")
	require.NoError(t, err)

	assert.Equal(t, Credentials{ClientID: "cid-1", ClientSecret: "csec-1"}, creds)
	assert.Equal(t, "fedifaves", gotForm.Get("client_name"))
	assert.Equal(t, "read", gotForm.Get("scopes"))
	assert.Equal(t, "http://localhost/dash/fedifaves/auth", gotForm.Get("redirect_uris"))
}

func TestRegisterApp_InstanceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).RegisterApp(context.Background(),
		"example.social", "fedifaves", []string{"read"}, "http://localhost/auth")
	assert.ErrorIs(t, err, ErrRegistration)
}

func TestAuthorizeURL(t *testing.T) {
	c := NewClient("fedifaves-test")
	raw := c.AuthorizeURL("example.social",
		Credentials{ClientID: "cid-1", ClientSecret: "csec-1"},
		"http://localhost/dash/fedifaves/auth", []string{"read"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "example.social", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "cid-1", u.Query().Get("client_id"))
	assert.Equal(t, "http://localhost/dash/fedifaves/auth", u.Query().Get("redirect_uri"))
	assert.Equal(t, "read", u.Query().Get("scope"))
	// The client secret never appears in the browser-visible URL.
	assert.NotContains(t, raw, "csec-1")
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "abc123", r.PostForm.Get("code"))
		assert.Equal(t, "cid-1", r.PostForm.Get("client_id"))
		// Identity comes from the code alone; no user parameter is sent.
		assert.Empty(t, r.PostForm.Get("username"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	}))
	defer srv.Close()

	token, err := testClient(t, srv).ExchangeCode(context.Background(), "example.social",
		Credentials{ClientID: "cid-1", ClientSecret: "csec-1"},
		"abc123", "http://localhost/auth", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestExchangeCode_RejectedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).ExchangeCode(context.Background(), "example.social",
		Credentials{}, "expired", "http://localhost/auth", []string{"read"})
	assert.ErrorIs(t, err, ErrExchange)
}

func TestFavourites_PaginationAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/favourites", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "40", r.URL.Query().Get("limit"))
		w.Header().Set("Link",
			`<https://example.social/api/v1/favourites?max_id=100>; rel="next", `+
				`<https://example.social/api/v1/favourites?min_id=205>; rel="prev"`)
		_, _ = w.Write([]byte(`[{"id":"205","url":"https://example.social/@a/205"}]`))
	}))
	defer srv.Close()

	page, err := testClient(t, srv).Favourites(context.Background(), "example.social", "tok-1", "", 40)
	require.NoError(t, err)
	require.Len(t, page.Statuses, 1)
	assert.Equal(t, "205", page.Statuses[0].ID)
	assert.Equal(t, "205", page.NextMinID)
}

func TestBookmarks_MinIDRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/bookmarks", r.URL.Path)
		assert.Equal(t, "150", r.URL.Query().Get("min_id"))
		assert.Empty(t, r.URL.Query().Get("limit"), "min_id requests must not also send limit")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	page, err := testClient(t, srv).Bookmarks(context.Background(), "example.social", "tok-1", "150", 40)
	require.NoError(t, err)
	assert.Empty(t, page.Statuses)
	assert.Empty(t, page.NextMinID, "no Link header means no new cursor")
}

func TestFavourites_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Favourites(context.Background(), "example.social", "tok-1", "", 40)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestPrevMinID(t *testing.T) {
	cases := []struct {
		name string
		link string
		want string
	}{
		{"both rels", `<https://h/x?max_id=1>; rel="next", <https://h/x?min_id=9>; rel="prev"`, "9"},
		{"prev only", `<https://h/x?min_id=42>; rel="prev"`, "42"},
		{"next only", `<https://h/x?max_id=1>; rel="next"`, ""},
		{"empty", "", ""},
		{"garbage", "not a link header", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, prevMinID(tc.link))
		})
	}
}

func TestStatusDecoding(t *testing.T) {
	raw := `{
		"id": "113",
		"created_at": "2024-03-01T12:00:00Z",
		"url": "https://example.social/@a/113",
		"account": {"acct": "a@example.social", "display_name": "A"},
		"replies_count": 1, "reblogs_count": 2, "favourites_count": 3,
		"favourited": true, "bookmarked": false,
		"card": {"url": "https://blog.example/post", "title": "T", "description": "D", "image": "https://img"},
		"media_attachments": [{"preview_url": "https://preview"}]
	}`
	var st Status
	require.NoError(t, json.NewDecoder(strings.NewReader(raw)).Decode(&st))

	assert.Equal(t, "113", st.ID)
	assert.True(t, st.Favourited)
	require.NotNil(t, st.Card)
	assert.Equal(t, "T", st.Card.Title)
	require.Len(t, st.MediaAttachments, 1)
	assert.Equal(t, "https://preview", st.MediaAttachments[0].PreviewURL)
}
