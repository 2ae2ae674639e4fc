// Package masto is a thin client for the handful of Mastodon endpoints the
// dashboard needs: dynamic app registration, the OAuth2 authorization-code
// dance, and the paginated favourites and bookmarks collections.
package masto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Error taxonomy. Callers match with errors.Is; the concrete cause
// (HTTP status, network failure) is wrapped underneath.
var (
	// ErrRegistration: the instance is unreachable or rejected app registration.
	ErrRegistration = errors.New("masto: app registration failed")
	// ErrExchange: the authorization code was rejected during token exchange.
	ErrExchange = errors.New("masto: token exchange failed")
	// ErrFetch: a collection fetch failed; the caller's cache stays untouched.
	ErrFetch = errors.New("masto: fetch failed")
)

const requestTimeout = 30 * time.Second

// Client talks to one or more Mastodon-compatible instances.
// The zero value is not usable; use NewClient.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(userAgent string) *Client {
	return &Client{
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: userAgent,
	}
}

// NewClientWithHTTP returns a Client using the provided http.Client.
// Used by tests to point at a stub server.
func NewClientWithHTTP(hc *http.Client, userAgent string) *Client {
	return &Client{http: hc, userAgent: userAgent}
}

func baseURL(instance string) string {
	return "https://" + instance
}

// RegisterApp registers a new OAuth application with the instance and
// returns its client credentials.
func (c *Client) RegisterApp(ctx context.Context, instance, appName string, scopes []string, redirectURI string) (Credentials, error) {
	form := url.Values{
		"client_name":   {appName},
		"redirect_uris": {redirectURI},
		"scopes":        {strings.Join(scopes, " ")},
	}

	var creds Credentials
	if err := c.postForm(ctx, baseURL(instance)+"/api/v1/apps", form, "", &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return Credentials{}, fmt.Errorf("%w: instance returned empty credentials", ErrRegistration)
	}
	return creds, nil
}

// AuthorizeURL builds the instance's authorization URL for the given client.
// The browser is sent here; the instance redirects back to redirectURI with
// ?code=... on approval.
func (c *Client) AuthorizeURL(instance string, creds Credentials, redirectURI string, scopes []string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {strings.Join(scopes, " ")},
	}
	return baseURL(instance) + "/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for an access token.
// The authenticated identity is derived entirely from the code; no user
// identifier is sent.
func (c *Client) ExchangeCode(ctx context.Context, instance string, creds Credentials, code, redirectURI string, scopes []string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {redirectURI},
		"scope":         {strings.Join(scopes, " ")},
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.postForm(ctx, baseURL(instance)+"/oauth/token", form, "", &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: instance returned no access token", ErrExchange)
	}
	return resp.AccessToken, nil
}

// Favourites fetches a page of the authenticated user's favourited statuses.
// With minID set, only statuses newer than that boundary are returned;
// otherwise the newest `limit` statuses.
func (c *Client) Favourites(ctx context.Context, instance, accessToken, minID string, limit int) (Page, error) {
	return c.collection(ctx, instance, accessToken, "/api/v1/favourites", minID, limit)
}

// Bookmarks fetches a page of the authenticated user's bookmarked statuses.
func (c *Client) Bookmarks(ctx context.Context, instance, accessToken, minID string, limit int) (Page, error) {
	return c.collection(ctx, instance, accessToken, "/api/v1/bookmarks", minID, limit)
}

func (c *Client) collection(ctx context.Context, instance, accessToken, path, minID string, limit int) (Page, error) {
	q := url.Values{}
	if minID != "" {
		q.Set("min_id", minID)
	} else if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(instance)+path+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("%w: %s returned %s", ErrFetch, path, resp.Status)
	}

	var statuses []Status
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return Page{}, fmt.Errorf("%w: decode %s: %v", ErrFetch, path, err)
	}

	return Page{
		Statuses:  statuses,
		NextMinID: prevMinID(resp.Header.Get("Link")),
	}, nil
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Link headers look like:
//
//	<https://host/api/v1/favourites?max_id=100>; rel="next",
//	<https://host/api/v1/favourites?min_id=205>; rel="prev"
//
// The rel="prev" pointer carries the min_id boundary of the freshest item
// on this page.
var linkEntryRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="([^"]+)"`)

func prevMinID(linkHeader string) string {
	for _, m := range linkEntryRe.FindAllStringSubmatch(linkHeader, -1) {
		if m[2] != "prev" {
			continue
		}
		u, err := url.Parse(m[1])
		if err != nil {
			return ""
		}
		return u.Query().Get("min_id")
	}
	return ""
}
