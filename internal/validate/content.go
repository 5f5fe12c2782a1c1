package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

var months = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// canonicalMonth accepts a three letter month name in any case.
func canonicalMonth(s string) (string, bool) {
	for _, m := range months {
		if strings.EqualFold(s, m) {
			return m, true
		}
	}
	return "", false
}

var clockPattern = regexp.MustCompile(`(?i)^(\d{1,2})\.(\d{2})\s?(am|pm)$`)

// canonicalTime accepts 8.00pm, 8.00 PM, 10.30 am and renders them with a
// single space and a lower case suffix.
func canonicalTime(s string) (string, bool) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s.%s %s", m[1], m[2], strings.ToLower(m[3])), true
}

// Event validates an event request.
func (e *Engine) Event(in model.EventInput, mode Mode) (model.EventChanges, error) {
	errs := FieldErrors{}
	out := model.EventChanges{
		Title:    e.check(errs, mode, rule{name: "title", value: in.Title, create: "required,min=3,max=255"}),
		Location: e.check(errs, mode, rule{name: "location", value: in.Location, create: "required,min=3,max=255"}),
	}

	if raw := e.check(errs, mode, rule{name: "date", value: in.Date, create: "required,number"}); raw != nil {
		day, err := strconv.Atoi(*raw)
		if err != nil {
			errs.Add("date", message("date", "number", "", 0))
		} else if err := e.v.Var(day, "min=1,max=31"); err != nil {
			e.collect(errs, "date", err)
		} else {
			out.Date = &day
		}
	}
	if raw := e.check(errs, mode, rule{name: "month", value: in.Month, create: "required,month"}); raw != nil {
		m, _ := canonicalMonth(*raw)
		out.Month = &m
	}
	if raw := e.check(errs, mode, rule{name: "time", value: in.Time, create: "required,clocktime"}); raw != nil {
		t, _ := canonicalTime(*raw)
		out.Time = &t
	}

	out.Image = e.image(errs, mode, in.Image, standardImage)
	return result(out, errs)
}

// Post validates a blog post request. A missing author is left nil.
func (e *Engine) Post(in model.PostInput, mode Mode) (model.PostChanges, error) {
	errs := FieldErrors{}
	out := model.PostChanges{
		Title:       e.check(errs, mode, rule{name: "title", value: in.Title, create: "required,max=255"}),
		Category:    e.check(errs, mode, rule{name: "category", value: in.Category, create: "required,max=255"}),
		Date:        e.check(errs, mode, rule{name: "date", value: in.Date, create: "required,datetime=2006-01-02"}),
		Author:      e.check(errs, mode, rule{name: "author", value: in.Author, create: "max=255"}),
		Description: e.check(errs, mode, rule{name: "description", value: in.Description, create: "required,min=10,max=1000"}),
	}
	if out.Author != nil && *out.Author == "" {
		out.Author = nil
	}
	out.Image = e.image(errs, mode, in.Image, standardImage)
	return result(out, errs)
}

// News validates a news request. Its description minimum is shorter than a
// post's, and on update the description may be emptied.
func (e *Engine) News(in model.NewsInput, mode Mode) (model.NewsChanges, error) {
	errs := FieldErrors{}
	out := model.NewsChanges{
		Title:       e.check(errs, mode, rule{name: "title", value: in.Title, create: "required,max=255"}),
		Category:    e.check(errs, mode, rule{name: "category", value: in.Category, create: "required,max=255"}),
		Date:        e.check(errs, mode, rule{name: "date", value: in.Date, create: "required,datetime=2006-01-02"}),
		Description: e.check(errs, mode, rule{name: "description", value: in.Description, create: "required,min=4,max=500", update: "omitempty,min=4,max=500"}),
	}
	out.Image = e.image(errs, mode, in.Image, newsImage)
	return result(out, errs)
}

// Ministry validates a ministry request. The image is required on create.
func (e *Engine) Ministry(in model.MinistryInput, mode Mode) (model.MinistryChanges, error) {
	errs := FieldErrors{}
	out := model.MinistryChanges{
		Title:       e.check(errs, mode, rule{name: "title", value: in.Title, create: "required,max=255"}),
		Description: e.check(errs, mode, rule{name: "description", value: in.Description, create: "required,min=10,max=1000"}),
	}
	out.Image = e.image(errs, mode, in.Image, ministryImage)
	return result(out, errs)
}

// LiveStream validates a livestream settings request. All three fields are
// required; isLive accepts the usual boolean spellings.
func (e *Engine) LiveStream(in model.LiveStreamInput) (model.LiveStreamChanges, error) {
	errs := FieldErrors{}
	var out model.LiveStreamChanges

	if raw := e.check(errs, Create, rule{name: "isLive", value: in.IsLive, create: "required"}); raw != nil {
		live, ok := parseBool(*raw)
		if !ok {
			errs.Add("isLive", message("isLive", "boolean", "", 0))
		}
		out.IsLive = live
	}
	if v := e.check(errs, Create, rule{name: "title", value: in.Title, create: "required,max=255"}); v != nil {
		out.Title = *v
	}
	if v := e.check(errs, Create, rule{name: "videoUrl", value: in.VideoURL, create: "required,max=255,http_url"}); v != nil {
		out.VideoURL = *v
	}
	return result(out, errs)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	return false, false
}

// Registration validates a sign-up request.
func (e *Engine) Registration(in model.Registration) error {
	return e.structure(&in)
}

// Credentials validates a login request.
func (e *Engine) Credentials(in model.Credentials) error {
	return e.structure(&in)
}

func (e *Engine) structure(v any) error {
	errs := FieldErrors{}
	if err := e.v.Struct(v); err != nil {
		e.collect(errs, "", err)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
