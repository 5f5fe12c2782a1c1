package server

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sanctuary-church/sanctuary-api/internal/auth"
	"github.com/sanctuary-church/sanctuary-api/internal/content"
	errordefs "github.com/sanctuary-church/sanctuary-api/internal/errors"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/schema"
)

// mountContent registers the list, show, create, update and delete routes
// of one content resource under /api/<name>.
func mountContent[T any, P model.Content[T], I any](m *Mux, res *content.Resource[T, P, I], decode func(*fields) (I, error)) {
	base := "/api/" + res.Name()
	kind := attribute.String("resource", res.Name())

	m.mux.HandleFunc("GET "+base, m.authed(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handleList")
		defer span.End()
		span.SetAttributes(kind)

		rows, err := res.List(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			m.fail(w, r, err)
			return
		}
		if rows == nil {
			rows = []T{}
		}
		m.writeJSON(w, http.StatusOK, rows)
	}))

	m.mux.HandleFunc("GET "+base+"/{id}", m.authed(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handleShow")
		defer span.End()
		span.SetAttributes(kind)

		id, err := pathID(r)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		row, err := res.Get(ctx, id)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.writeJSON(w, http.StatusOK, row)
	}))

	m.mux.HandleFunc("POST "+base, m.admin(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handleCreate")
		defer span.End()
		span.SetAttributes(kind)

		in, err := decodeContent(m, r, decode)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		row, err := res.Create(ctx, in)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			m.fail(w, r, err)
			return
		}
		m.writeJSON(w, http.StatusCreated, row)
	}))

	update := func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handleUpdate")
		defer span.End()
		span.SetAttributes(kind)

		id, err := pathID(r)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		span.SetAttributes(attribute.Int64("id", id))
		in, err := decodeContent(m, r, decode)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		row, err := res.Update(ctx, id, in)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			m.fail(w, r, err)
			return
		}
		m.writeJSON(w, http.StatusOK, row)
	}

	remove := func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "handleDelete")
		defer span.End()
		span.SetAttributes(kind)

		id, err := pathID(r)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if err := res.Delete(ctx, id); err != nil {
			span.SetStatus(codes.Error, err.Error())
			m.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}

	m.mux.HandleFunc("PUT "+base+"/{id}", m.admin(update))
	m.mux.HandleFunc("DELETE "+base+"/{id}", m.admin(remove))
	m.mux.HandleFunc("POST "+base+"/{id}", m.admin(m.formMethod(update, remove)))
}

// formMethod dispatches a form POST on its _method field. The body is only
// parsed here, behind the admin gate.
func (m *Mux) formMethod(update, remove http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var override string
		if isForm(r) {
			if err := parseForm(r); err != nil {
				m.fail(w, r, err)
				return
			}
			override = r.PostFormValue("_method")
		}
		switch strings.ToUpper(override) {
		case http.MethodPut, http.MethodPatch:
			r.Method = http.MethodPut
			update(w, r)
		case http.MethodDelete:
			r.Method = http.MethodDelete
			remove(w, r)
		default:
			w.Header().Set("Allow", "GET, PUT, DELETE")
			def := errordefs.New(errordefs.CodeBadRequest, "POST requires _method=PUT or _method=DELETE", "")
			def.HTTPStatus = http.StatusMethodNotAllowed
			m.fail(w, r, def)
		}
	}
}

// decodeContent reads the request body into a resource input.
func decodeContent[I any](m *Mux, r *http.Request, decode func(*fields) (I, error)) (I, error) {
	var zero I
	f, err := m.readFields(r, "")
	if err != nil {
		return zero, err
	}
	return decode(f)
}

func (m *Mux) handleShowLiveStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleShowLiveStream")
	defer span.End()

	ls, err := m.content.LiveStream.Show(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, ls)
}

func (m *Mux) handleUpdateLiveStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleUpdateLiveStream")
	defer span.End()

	f, err := m.readFields(r, schema.LiveStream)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	ls, err := m.content.LiveStream.Update(ctx, model.LiveStreamInput{
		IsLive:   f.str("isLive"),
		Title:    f.str("title"),
		VideoURL: f.str("videoUrl"),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, ls)
}

func (m *Mux) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleRegister")
	defer span.End()

	f, err := m.readFields(r, schema.Register)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	session, err := m.auth.Register(ctx, model.Registration{
		Name:                 f.text("name"),
		Email:                f.text("email"),
		Password:             f.text("password"),
		PasswordConfirmation: f.text("password_confirmation"),
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("user_id", session.User.ID))
	m.writeJSON(w, http.StatusCreated, session)
}

func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleLogin")
	defer span.End()

	f, err := m.readFields(r, schema.Login)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	session, err := m.auth.Login(ctx, model.Credentials{
		Email:    f.text("email"),
		Password: f.text("password"),
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, session)
}

func (m *Mux) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if err := m.auth.Logout(r.Context(), id); err != nil {
		m.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Mux) handleUser(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	u, err := m.auth.User(r.Context(), id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeJSON(w, http.StatusOK, u)
}
