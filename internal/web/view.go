package web

import (
	"net/url"
	"time"

	"fedifaves/internal/session"
	"fedifaves/internal/state"
)

// maxDescriptionRunes bounds card descriptions on screen.
const maxDescriptionRunes = 200

// pageView is the data handed to the layout template.
type pageView struct {
	BasePath      string
	Instance      string
	Authenticated bool
	Phase         string
	Posts         []cardView
	FetchedAt     string
}

// cardView is one rendered article card.
type cardView struct {
	Date             string
	Account          string
	DisplayName      string
	InteractionURL   string
	Title            string
	Description      string
	URL              string
	ImageURL         string
	InteractionCount int
	Badge            string
}

func buildPageView(basePath string, snap state.Snapshot, loc *time.Location) pageView {
	view := pageView{
		BasePath: basePath,
		Phase:    session.PhaseOf(snap).String(),
	}
	if snap.Registration != nil {
		view.Instance = snap.Registration.Instance
	}
	view.Authenticated = snap.Token != nil

	if snap.Cache == nil {
		return view
	}
	view.FetchedAt = snap.Cache.LastFetchedAt.In(loc).Format(dateLayout)
	for _, post := range snap.Cache.Posts {
		view.Posts = append(view.Posts, buildCardView(post, snap.Registration, loc))
	}
	return view
}

const dateLayout = "Jan 2, 2006 3:04PM"

func buildCardView(post state.Post, reg *state.AppRegistration, loc *time.Location) cardView {
	card := cardView{
		Date:             post.Date.In(loc).Format(dateLayout),
		Account:          post.Account,
		DisplayName:      post.DisplayName,
		Title:            post.Title,
		Description:      truncate(post.Description, maxDescriptionRunes),
		URL:              post.URL,
		ImageURL:         post.ImageURL,
		InteractionCount: post.InteractionCount,
	}

	// Attachment preview first; the card's own image fills in when the
	// status carried no media.
	if card.ImageURL == "" {
		card.ImageURL = post.CardImageURL
	}

	// Interacting with the status happens on the user's own instance.
	if reg != nil {
		q := url.Values{"uri": {post.StatusURL}}
		card.InteractionURL = "https://" + reg.Instance + "/authorize_interaction?" + q.Encode()
	} else {
		card.InteractionURL = post.StatusURL
	}

	switch {
	case post.IsFavorite:
		card.Badge = "favorite"
	case post.IsBookmark:
		card.Badge = "bookmark"
	}
	return card
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
