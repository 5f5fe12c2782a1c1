package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	errordefs "github.com/sanctuary-church/sanctuary-api/internal/errors"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// multipartMemory is the part of a multipart body kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// fields is a request body reduced to named scalar values and files. A key
// that is absent from the body is absent from the maps, which is how partial
// updates tell "not sent" from "sent empty".
type fields struct {
	values map[string]string
	files  map[string]*multipart.FileHeader
}

// str returns the value of name, or nil when the body did not carry it.
func (f *fields) str(name string) *string {
	v, ok := f.values[name]
	if !ok {
		return nil
	}
	return &v
}

// text is str with absence read as "".
func (f *fields) text(name string) string {
	return f.values[name]
}

// upload reads the file part name. A plain non-empty value under the same
// name becomes an upload with no recognisable image content so that
// validation rejects it.
func (f *fields) upload(name string) (*model.Upload, error) {
	fh, ok := f.files[name]
	if !ok {
		if v := f.values[name]; v != "" {
			return &model.Upload{Data: []byte(v)}, nil
		}
		return nil, nil
	}
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", name, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", name, err)
	}
	return &model.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func mediaType(r *http.Request) string {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt
}

func isForm(r *http.Request) bool {
	switch mediaType(r) {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		return true
	}
	return false
}

// parseForm parses urlencoded and multipart bodies once; later calls reuse
// the parsed form.
func parseForm(r *http.Request) error {
	var err error
	if mediaType(r) == "multipart/form-data" {
		if r.MultipartForm != nil {
			return nil
		}
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return tooBig
		}
		return errordefs.New(errordefs.CodeBadRequest, "malformed form body", "")
	}
	return nil
}

// readFields decodes a JSON, urlencoded or multipart body. JSON bodies are
// checked against the named schema first when body is not empty.
func (m *Mux) readFields(r *http.Request, body string) (*fields, error) {
	f := &fields{values: map[string]string{}, files: map[string]*multipart.FileHeader{}}

	if isForm(r) {
		if err := parseForm(r); err != nil {
			return nil, err
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 && k != "_method" {
				f.values[k] = vs[0]
			}
		}
		if r.MultipartForm != nil {
			for k, fhs := range r.MultipartForm.File {
				if len(fhs) > 0 {
					f.files[k] = fhs[0]
				}
			}
		}
		return f, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return f, nil
	}
	if mt := mediaType(r); mt != "" && mt != "application/json" {
		return nil, errordefs.New(errordefs.CodeBadRequest, "unsupported content type "+mt, "")
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errordefs.New(errordefs.CodeBadRequest, "malformed JSON body", "")
	}
	if body != "" {
		if err := m.validator.Validate(body, raw); err != nil {
			return nil, err
		}
	}

	errs := validate.FieldErrors{}
	for k, v := range obj {
		switch v := v.(type) {
		case nil:
		case string:
			f.values[k] = v
		case bool:
			f.values[k] = strconv.FormatBool(v)
		case float64:
			f.values[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			errs.Add(k, fmt.Sprintf("The %s field must be a string.", k))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return f, nil
}

// pathID parses the {id} path value. Anything but a positive integer
// names no row.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

func eventInput(f *fields) (model.EventInput, error) {
	img, err := f.upload("image")
	if err != nil {
		return model.EventInput{}, err
	}
	return model.EventInput{
		Title:    f.str("title"),
		Date:     f.str("date"),
		Month:    f.str("month"),
		Time:     f.str("time"),
		Location: f.str("location"),
		Image:    img,
	}, nil
}

func postInput(f *fields) (model.PostInput, error) {
	img, err := f.upload("image")
	if err != nil {
		return model.PostInput{}, err
	}
	return model.PostInput{
		Title:       f.str("title"),
		Category:    f.str("category"),
		Date:        f.str("date"),
		Author:      f.str("author"),
		Description: f.str("description"),
		Image:       img,
	}, nil
}

func newsInput(f *fields) (model.NewsInput, error) {
	img, err := f.upload("image")
	if err != nil {
		return model.NewsInput{}, err
	}
	return model.NewsInput{
		Title:       f.str("title"),
		Category:    f.str("category"),
		Date:        f.str("date"),
		Description: f.str("description"),
		Image:       img,
	}, nil
}

func ministryInput(f *fields) (model.MinistryInput, error) {
	img, err := f.upload("image")
	if err != nil {
		return model.MinistryInput{}, err
	}
	return model.MinistryInput{
		Title:       f.str("title"),
		Description: f.str("description"),
		Image:       img,
	}, nil
}
