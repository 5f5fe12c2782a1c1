// Package model defines the content types served by the sanctuary API,
// the raw request shapes used to create and update them, and the validated
// change sets applied to stored rows.
package model

import (
	"time"
)

// Meta carries the server-generated columns shared by every content row.
type Meta struct {
	ID        int64     `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Metadata exposes the shared columns to generic storage code.
func (m *Meta) Metadata() *Meta { return m }

// Attachment is the optional image reference of a content row.
// Image is the blob key; ImageURL is resolved from the key when the row
// is returned to a client and is never persisted.
type Attachment struct {
	Image    *string `json:"image" db:"image"`
	ImageURL *string `json:"image_url" db:"-"`
}

// Attached exposes the image reference to generic storage code.
func (a *Attachment) Attached() *Attachment { return a }

// Content is satisfied by pointers to the image-bearing content types.
type Content[T any] interface {
	*T
	Metadata() *Meta
	Attached() *Attachment
}

// Changes is a validated set of field updates for content type T.
type Changes[T any] interface {
	// Apply copies every present field onto row. Image keys are handled
	// by the caller.
	Apply(row *T)
	// Upload returns the validated image file, or nil when none was sent.
	Upload() *Upload
}

// Event is a dated church event. Date is the day of the month only.
type Event struct {
	Meta
	Title    string `json:"title" db:"title"`
	Date     int    `json:"date" db:"date"`
	Month    string `json:"month" db:"month"`
	Time     string `json:"time" db:"time"`
	Location string `json:"location" db:"location"`
	Attachment
}

// Post is a blog post.
type Post struct {
	Meta
	Title       string `json:"title" db:"title"`
	Category    string `json:"category" db:"category"`
	Date        string `json:"date" db:"date"` // YYYY-MM-DD
	Author      string `json:"author" db:"author"`
	Description string `json:"description" db:"description"`
	Attachment
}

// News is a short announcement.
type News struct {
	Meta
	Title       string `json:"title" db:"title"`
	Category    string `json:"category" db:"category"`
	Date        string `json:"date" db:"date"` // YYYY-MM-DD
	Description string `json:"description" db:"description"`
	Attachment
}

// Ministry describes one of the church's ministries. Every ministry has an image.
type Ministry struct {
	Meta
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	Attachment
}

// Upload is an image file received with a create or update request.
type Upload struct {
	Filename    string // client-supplied name
	ContentType string // client-declared MIME type
	Data        []byte
	Format      string // detected image format, set once the upload passed validation
}

// Size returns the upload size in bytes.
func (u *Upload) Size() int64 {
	if u == nil {
		return 0
	}
	return int64(len(u.Data))
}

// EventInput holds the raw event fields of a request. A nil field was not sent.
type EventInput struct {
	Title    *string
	Date     *string
	Month    *string
	Time     *string
	Location *string
	Image    *Upload
}

// EventChanges is a validated EventInput.
type EventChanges struct {
	Title    *string
	Date     *int
	Month    *string
	Time     *string
	Location *string
	Image    *Upload
}

// Apply implements Changes.
func (c EventChanges) Apply(e *Event) {
	setString(&e.Title, c.Title)
	if c.Date != nil {
		e.Date = *c.Date
	}
	setString(&e.Month, c.Month)
	setString(&e.Time, c.Time)
	setString(&e.Location, c.Location)
}

// Upload implements Changes.
func (c EventChanges) Upload() *Upload { return c.Image }

// PostInput holds the raw post fields of a request.
type PostInput struct {
	Title       *string
	Category    *string
	Date        *string
	Author      *string
	Description *string
	Image       *Upload
}

// PostChanges is a validated PostInput.
type PostChanges struct {
	Title       *string
	Category    *string
	Date        *string
	Author      *string
	Description *string
	Image       *Upload
}

// Apply implements Changes.
func (c PostChanges) Apply(p *Post) {
	setString(&p.Title, c.Title)
	setString(&p.Category, c.Category)
	setString(&p.Date, c.Date)
	setString(&p.Author, c.Author)
	setString(&p.Description, c.Description)
}

// Upload implements Changes.
func (c PostChanges) Upload() *Upload { return c.Image }

// NewsInput holds the raw news fields of a request.
type NewsInput struct {
	Title       *string
	Category    *string
	Date        *string
	Description *string
	Image       *Upload
}

// NewsChanges is a validated NewsInput.
type NewsChanges struct {
	Title       *string
	Category    *string
	Date        *string
	Description *string
	Image       *Upload
}

// Apply implements Changes.
func (c NewsChanges) Apply(n *News) {
	setString(&n.Title, c.Title)
	setString(&n.Category, c.Category)
	setString(&n.Date, c.Date)
	setString(&n.Description, c.Description)
}

// Upload implements Changes.
func (c NewsChanges) Upload() *Upload { return c.Image }

// MinistryInput holds the raw ministry fields of a request.
type MinistryInput struct {
	Title       *string
	Description *string
	Image       *Upload
}

// MinistryChanges is a validated MinistryInput.
type MinistryChanges struct {
	Title       *string
	Description *string
	Image       *Upload
}

// Apply implements Changes.
func (c MinistryChanges) Apply(m *Ministry) {
	setString(&m.Title, c.Title)
	setString(&m.Description, c.Description)
}

// Upload implements Changes.
func (c MinistryChanges) Upload() *Upload { return c.Image }

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
