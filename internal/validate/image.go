package validate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// imageRule limits the decoded format and the size of an upload.
type imageRule struct {
	required bool     // on create
	formats  []string // as reported by image.DecodeConfig
	names    []string // extensions listed in the error message
	maxKB    int64
}

var (
	standardImage = imageRule{formats: []string{"jpeg", "png", "webp"}, names: []string{"jpeg", "png", "jpg", "webp"}, maxKB: 2048}
	newsImage     = imageRule{formats: []string{"jpeg", "png"}, names: []string{"jpeg", "png", "jpg"}, maxKB: 2048}
	ministryImage = imageRule{required: true, formats: []string{"jpeg", "png"}, names: []string{"jpeg", "png", "jpg"}, maxKB: 6144}
)

// image inspects the upload content. The declared content type and file
// name are not trusted. On success the detected format is recorded on the
// upload.
func (e *Engine) image(errs FieldErrors, mode Mode, up *model.Upload, r imageRule) *model.Upload {
	if up == nil || len(up.Data) == 0 {
		if mode == Create && r.required {
			errs.Add("image", message("image", "required", "", 0))
		}
		return nil
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil {
		errs.Add("image", "The image field must be an image.")
		return nil
	}
	ok := true
	if !slices.Contains(r.formats, format) {
		errs.Add("image", fmt.Sprintf("The image field must be a file of type: %s.", strings.Join(r.names, ", ")))
		ok = false
	}
	if up.Size() > r.maxKB*1024 {
		errs.Add("image", fmt.Sprintf("The image field must not be greater than %d kilobytes.", r.maxKB))
		ok = false
	}
	if !ok {
		return nil
	}
	up.Format = format
	return up
}
