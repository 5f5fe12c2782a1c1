package model

import (
	"regexp"
	"time"
)

// LiveStreamRecord is the persisted form of the livestream settings.
// It uses snake_case keys and carries no timestamps.
type LiveStreamRecord struct {
	ID       int64  `json:"id" db:"id"`
	IsLive   bool   `json:"is_live" db:"is_live"`
	Title    string `json:"title" db:"title"`
	VideoURL string `json:"video_url" db:"video_url"`
}

// LiveStream is the client-facing form of the livestream settings.
type LiveStream struct {
	ID       int64   `json:"id"`
	IsLive   bool    `json:"isLive"`
	Title    string  `json:"title"`
	VideoURL string  `json:"videoUrl"`
	VideoID  *string `json:"videoId"`
}

// LiveStreamInput holds the raw livestream fields of a request. IsLive is the
// string form of whatever the client sent (true, "1", "off", ...).
type LiveStreamInput struct {
	IsLive   *string
	Title    *string
	VideoURL *string
}

// LiveStreamChanges is a validated LiveStreamInput. Every field is required.
type LiveStreamChanges struct {
	IsLive   bool
	Title    string
	VideoURL string
}

// Apply overwrites the three settings fields of rec.
func (c LiveStreamChanges) Apply(rec *LiveStreamRecord) {
	rec.IsLive = c.IsLive
	rec.Title = c.Title
	rec.VideoURL = c.VideoURL
}

// External maps the stored record to its client form.
func (r LiveStreamRecord) External() LiveStream {
	ls := LiveStream{
		ID:       r.ID,
		IsLive:   r.IsLive,
		Title:    r.Title,
		VideoURL: r.VideoURL,
	}
	if id, ok := VideoID(r.VideoURL); ok {
		ls.VideoID = &id
	}
	return ls
}

// Record maps the client form back to the stored record. VideoID is derived
// and therefore dropped.
func (ls LiveStream) Record() LiveStreamRecord {
	return LiveStreamRecord{
		ID:       ls.ID,
		IsLive:   ls.IsLive,
		Title:    ls.Title,
		VideoURL: ls.VideoURL,
	}
}

var videoIDPattern = regexp.MustCompile(`(?:youtu\.be/|youtube\.com/(?:watch\?v=|embed/|v/|live/))([^?&/\s]{11})`)

// VideoID extracts the 11 character YouTube video id from url.
func VideoID(url string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// User is an account of the admin dashboard.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registration is the body of a sign-up request.
type Registration struct {
	Name                 string `json:"name" validate:"required,min=2,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=6,maxbytes=72"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

// Credentials is the body of a login request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
