package cvhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

func (a *API) getContent(w http.ResponseWriter, r *http.Request) {
	doc, err := a.store.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !doc.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", doc.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) updateContent(w http.ResponseWriter, r *http.Request) {
	var p cv.Patch
	if err := decodeJSON(r.Body, &p); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := a.store.Update(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type addedItem struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (a *API) addExperience(w http.ResponseWriter, r *http.Request) {
	var item cv.Experience
	if err := decodeJSON(r.Body, &item); err != nil {
		writeError(w, r, err)
		return
	}
	if item.ID == "" {
		item.ID = cv.NewID()
	}
	_, err := a.store.Mutate(r.Context(), func(d *cv.Document) error {
		d.Experiences = append(d.Experiences, item)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addedItem{Message: "Experience added successfully", ID: item.ID})
}

func (a *API) addEducation(w http.ResponseWriter, r *http.Request) {
	var item cv.Education
	if err := decodeJSON(r.Body, &item); err != nil {
		writeError(w, r, err)
		return
	}
	if item.ID == "" {
		item.ID = cv.NewID()
	}
	_, err := a.store.Mutate(r.Context(), func(d *cv.Document) error {
		d.Education = append(d.Education, item)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addedItem{Message: "Education added successfully", ID: item.ID})
}

// removeByID drops every element whose id matches. It reports false when
// nothing matched so the store write is aborted.
func removeByID[T any](items []T, id string, idOf func(T) string) ([]T, bool) {
	out := items[:0:0]
	for _, it := range items {
		if idOf(it) != id {
			out = append(out, it)
		}
	}
	return out, len(out) != len(items)
}

func (a *API) deleteExperience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := a.store.Mutate(r.Context(), func(d *cv.Document) error {
		kept, ok := removeByID(d.Experiences, id, func(e cv.Experience) string { return e.ID })
		if !ok {
			return xerrors.WithStack(errItemNotFound)
		}
		d.Experiences = kept
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Experience deleted successfully"})
}

func (a *API) deleteEducation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := a.store.Mutate(r.Context(), func(d *cv.Document) error {
		kept, ok := removeByID(d.Education, id, func(e cv.Education) string { return e.ID })
		if !ok {
			return xerrors.WithStack(errItemNotFound)
		}
		d.Education = kept
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Education deleted successfully"})
}
