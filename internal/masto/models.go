package masto

import "time"

// Credentials identify an OAuth client registered with an instance.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Account is the subset of a Mastodon account the dashboard renders.
type Account struct {
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
}

// Card is the link-preview metadata attached to a status. Statuses without
// a card carry no renderable content for this application.
type Card struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// MediaAttachment is a piece of media attached to a status.
type MediaAttachment struct {
	PreviewURL string `json:"preview_url"`
}

// Status is a post as returned by the favourites and bookmarks endpoints.
type Status struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	URL              string            `json:"url"`
	Account          Account           `json:"account"`
	RepliesCount     int               `json:"replies_count"`
	ReblogsCount     int               `json:"reblogs_count"`
	FavouritesCount  int               `json:"favourites_count"`
	Favourited       bool              `json:"favourited"`
	Bookmarked       bool              `json:"bookmarked"`
	Card             *Card             `json:"card"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
}

// Page is one page of a paginated collection.
//
// NextMinID is the min_id boundary read from the response's rel="prev" Link
// pointer: passing it as min_id on a later request returns only items newer
// than this page. Empty when the instance sent no pagination info.
type Page struct {
	Statuses  []Status
	NextMinID string
}
