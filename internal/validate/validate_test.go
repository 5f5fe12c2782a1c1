package validate

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

func str(s string) *string { return &s }

func pngUpload(t *testing.T) *model.Upload {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &model.Upload{Filename: "a.png", ContentType: "image/png", Data: buf.Bytes()}
}

func jpegUpload(t *testing.T) *model.Upload {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return &model.Upload{Filename: "a.jpg", ContentType: "image/jpeg", Data: buf.Bytes()}
}

func gifUpload(t *testing.T) *model.Upload {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black}), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	// A lying content type must not matter.
	return &model.Upload{Filename: "a.png", ContentType: "image/png", Data: buf.Bytes()}
}

// 1x1 lossless webp.
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func fieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	return fe
}

func validEvent() model.EventInput {
	return model.EventInput{
		Title:    str("Youth Night"),
		Date:     str("12"),
		Month:    str("mar"),
		Time:     str("8.00PM"),
		Location: str("Main Hall"),
	}
}

func TestEventCreateNormalizes(t *testing.T) {
	e := New()
	got, err := e.Event(validEvent(), Create)
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if *got.Date != 12 || *got.Month != "Mar" || *got.Time != "8.00 pm" {
		t.Fatalf("unexpected normalization: date=%d month=%s time=%s", *got.Date, *got.Month, *got.Time)
	}
	if got.Image != nil {
		t.Fatal("expected no image")
	}
}

func TestEventRejections(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*model.EventInput)
		field string
		msg   string
	}{
		{"short title", func(in *model.EventInput) { in.Title = str("Hi") }, "title", "The title field must be at least 3 characters."},
		{"missing title", func(in *model.EventInput) { in.Title = nil }, "title", "The title field is required."},
		{"date zero", func(in *model.EventInput) { in.Date = str("0") }, "date", "The date field must be at least 1."},
		{"date too big", func(in *model.EventInput) { in.Date = str("32") }, "date", "The date field must not be greater than 31."},
		{"date not numeric", func(in *model.EventInput) { in.Date = str("tenth") }, "date", "The date field must be an integer."},
		{"bad month", func(in *model.EventInput) { in.Month = str("Foo") }, "month", "The month field format is invalid."},
		{"bad time", func(in *model.EventInput) { in.Time = str("8:00 pm") }, "time", "The time field format is invalid."},
		{"24h time", func(in *model.EventInput) { in.Time = str("20.00") }, "time", "The time field format is invalid."},
		{"empty location", func(in *model.EventInput) { in.Location = str("  ") }, "location", "The location field is required."},
	}
	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validEvent()
			tt.edit(&in)
			_, err := e.Event(in, Create)
			fe := fieldErrors(t, err)
			if len(fe[tt.field]) == 0 || fe[tt.field][0] != tt.msg {
				t.Fatalf("errors = %v, want %s: %q", fe, tt.field, tt.msg)
			}
		})
	}
}

func TestEventTimeForms(t *testing.T) {
	e := New()
	for in, want := range map[string]string{
		"8.00 pm":  "8.00 pm",
		"8.00pm":   "8.00 pm",
		"10.30 AM": "10.30 am",
		"08.15Pm":  "08.15 pm",
	} {
		got, err := e.Event(model.EventInput{Time: str(in)}, Update)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if *got.Time != want {
			t.Errorf("%q -> %q, want %q", in, *got.Time, want)
		}
	}
}

func TestUpdateValidatesOnlyPresentFields(t *testing.T) {
	e := New()
	got, err := e.Event(model.EventInput{Title: str("Renamed")}, Update)
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if got.Date != nil || got.Month != nil || got.Location != nil {
		t.Fatalf("absent fields must stay nil: %+v", got)
	}

	_, err = e.Event(model.EventInput{Title: str("")}, Update)
	if fe := fieldErrors(t, err); len(fe["title"]) == 0 {
		t.Fatalf("present empty title must fail on update: %v", fe)
	}
}

func TestPostDate(t *testing.T) {
	e := New()
	base := model.PostInput{Title: str("T"), Category: str("C"), Description: str("A long enough body")}

	for _, bad := range []string{"2024-13-01", "2024-02-30", "01/02/2024", "2024-1-5"} {
		in := base
		in.Date = str(bad)
		_, err := e.Post(in, Create)
		fe := fieldErrors(t, err)
		if got := fe["date"]; len(got) == 0 || got[0] != "The date field must match the format Y-m-d." {
			t.Errorf("date %q: errors = %v", bad, fe)
		}
	}

	in := base
	in.Date = str("2024-02-29")
	got, err := e.Post(in, Create)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got.Author != nil {
		t.Fatalf("author should be left for the default, got %q", *got.Author)
	}
}

func TestNewsDescription(t *testing.T) {
	e := New()
	_, err := e.News(model.NewsInput{Title: str("T"), Category: str("C"), Date: str("2024-01-01")}, Create)
	if fe := fieldErrors(t, err); len(fe["description"]) == 0 {
		t.Fatalf("description required on create: %v", fe)
	}

	got, err := e.News(model.NewsInput{Description: str("")}, Update)
	if err != nil {
		t.Fatalf("empty description must be accepted on update: %v", err)
	}
	if got.Description == nil || *got.Description != "" {
		t.Fatalf("expected empty description, got %v", got.Description)
	}

	_, err = e.News(model.NewsInput{Description: str(strings.Repeat("x", 501))}, Update)
	if fe := fieldErrors(t, err); len(fe["description"]) == 0 {
		t.Fatalf("501 chars must fail: %v", fe)
	}
}

func TestDescriptionMinimums(t *testing.T) {
	e := New()
	tests := []struct {
		name  string
		min   int
		check func(desc *string, mode Mode) error
	}{
		{"post", 10, func(d *string, mode Mode) error {
			_, err := e.Post(model.PostInput{Title: str("T"), Category: str("C"), Date: str("2024-01-01"), Description: d}, mode)
			return err
		}},
		{"news", 4, func(d *string, mode Mode) error {
			_, err := e.News(model.NewsInput{Title: str("T"), Category: str("C"), Date: str("2024-01-01"), Description: d}, mode)
			return err
		}},
		{"ministry", 10, func(d *string, mode Mode) error {
			_, err := e.Ministry(model.MinistryInput{Title: str("T"), Description: d}, mode)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, mode := range []Mode{Create, Update} {
				short := strings.Repeat("x", tt.min-1)
				fe := fieldErrors(t, tt.check(&short, mode))
				want := fmt.Sprintf("The description field must be at least %d characters.", tt.min)
				if got := fe["description"]; len(got) == 0 || got[0] != want {
					t.Errorf("%s with %d chars: errors = %v", mode, len(short), fe)
				}

				exact := strings.Repeat("x", tt.min)
				if fe := descriptionErrors(tt.check(&exact, mode)); len(fe) != 0 {
					t.Errorf("%s with %d chars rejected: %v", mode, len(exact), fe)
				}
			}
		})
	}
}

// descriptionErrors returns the description messages of err, ignoring the
// image rule that a ministry create also trips.
func descriptionErrors(err error) []string {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe["description"]
	}
	return nil
}

func TestMinistryImageRequiredOnCreate(t *testing.T) {
	e := New()
	in := model.MinistryInput{Title: str("Choir"), Description: str("We sing every Sunday")}

	_, err := e.Ministry(in, Create)
	fe := fieldErrors(t, err)
	if got := fe["image"]; len(got) == 0 || got[0] != "The image field is required." {
		t.Fatalf("errors = %v", fe)
	}

	if _, err := e.Ministry(model.MinistryInput{Title: str("Choir")}, Update); err != nil {
		t.Fatalf("image is optional on update: %v", err)
	}

	in.Image = jpegUpload(t)
	got, err := e.Ministry(in, Create)
	if err != nil {
		t.Fatalf("Ministry() error = %v", err)
	}
	if got.Image.Format != "jpeg" {
		t.Fatalf("format = %q", got.Image.Format)
	}
}

func TestImageInspection(t *testing.T) {
	e := New()
	webp, _ := base64.StdEncoding.DecodeString(tinyWebP)

	tests := []struct {
		name   string
		upload *model.Upload
		want   string
	}{
		{"png accepted", pngUpload(t), ""},
		{"gif rejected", gifUpload(t), "The image field must be a file of type: jpeg, png, jpg."},
		{"not an image", &model.Upload{Filename: "x.jpg", Data: []byte("hello")}, "The image field must be an image."},
		{"webp rejected for ministries", &model.Upload{Filename: "x.webp", Data: webp}, "The image field must be a file of type: jpeg, png, jpg."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Ministry(model.MinistryInput{Image: tt.upload}, Update)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			fe := fieldErrors(t, err)
			if got := fe["image"]; len(got) == 0 || got[0] != tt.want {
				t.Fatalf("errors = %v, want %q", fe, tt.want)
			}
		})
	}

	got, err := e.Event(model.EventInput{Image: &model.Upload{Filename: "x.webp", Data: webp}}, Update)
	if err != nil {
		t.Fatalf("webp must be accepted for events: %v", err)
	}
	if got.Image.Format != "webp" {
		t.Fatalf("format = %q", got.Image.Format)
	}
}

func TestImageSizeLimit(t *testing.T) {
	e := New()
	up := pngUpload(t)
	up.Data = append(up.Data, make([]byte, 2048*1024)...)

	_, err := e.Post(model.PostInput{Image: up}, Update)
	fe := fieldErrors(t, err)
	if got := fe["image"]; len(got) == 0 || got[0] != "The image field must not be greater than 2048 kilobytes." {
		t.Fatalf("errors = %v", fe)
	}

	// The ministry limit is larger.
	if _, err := e.Ministry(model.MinistryInput{Image: up}, Update); err != nil {
		t.Fatalf("ministry limit is 6144 KB: %v", err)
	}
}

func TestLiveStream(t *testing.T) {
	e := New()
	for raw, want := range map[string]bool{"true": true, "1": true, "on": true, "false": false, "0": false, "off": false} {
		got, err := e.LiveStream(model.LiveStreamInput{IsLive: str(raw), Title: str("Service"), VideoURL: str("https://youtu.be/dQw4w9WgXcQ")})
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got.IsLive != want {
			t.Errorf("%q -> %v", raw, got.IsLive)
		}
	}

	_, err := e.LiveStream(model.LiveStreamInput{IsLive: str("maybe"), Title: str(""), VideoURL: str("not a url")})
	fe := fieldErrors(t, err)
	for _, field := range []string{"isLive", "title", "videoUrl"} {
		if len(fe[field]) == 0 {
			t.Errorf("missing error for %s: %v", field, fe)
		}
	}
	if fe["videoUrl"][0] != "The video url field must be a valid URL." {
		t.Errorf("videoUrl message = %q", fe["videoUrl"][0])
	}
}

func TestRegistration(t *testing.T) {
	e := New()
	err := e.Registration(model.Registration{Name: "A", Email: "nope", Password: "secret1", PasswordConfirmation: "secret2"})
	fe := fieldErrors(t, err)
	if len(fe["name"]) == 0 || len(fe["email"]) == 0 {
		t.Fatalf("errors = %v", fe)
	}
	if got := fe["password"]; len(got) == 0 || got[0] != "The password field confirmation does not match." {
		t.Fatalf("password errors = %v", got)
	}

	ok := model.Registration{Name: "Ada", Email: "ada@example.org", Password: "secret1", PasswordConfirmation: "secret1"}
	if err := e.Registration(ok); err != nil {
		t.Fatalf("Registration() error = %v", err)
	}

	// Multi-byte runes count by their encoded length.
	long := strings.Repeat("é", 37)
	err = e.Registration(model.Registration{Name: "Ada", Email: "ada@example.org", Password: long, PasswordConfirmation: long})
	fe = fieldErrors(t, err)
	if got := fe["password"]; len(got) == 0 || got[0] != "The password field must not be greater than 72 bytes." {
		t.Fatalf("password errors = %v", got)
	}
	edge := strings.Repeat("x", 72)
	if err := e.Registration(model.Registration{Name: "Ada", Email: "ada@example.org", Password: edge, PasswordConfirmation: edge}); err != nil {
		t.Fatalf("72 byte password rejected: %v", err)
	}
}

func TestFieldErrorsString(t *testing.T) {
	fe := FieldErrors{}
	fe.Add("title", "The title field is required.")
	fe.Add("date", "The date field is required.")
	if got := fe.Error(); !strings.HasPrefix(got, "validation failed: date:") {
		t.Fatalf("Error() = %q", got)
	}
}
