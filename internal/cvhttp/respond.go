package cvhttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cv/internal/contentstore"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

var (
	errBadJSON      = errors.New("invalid JSON body")
	errBodyTooLarge = errors.New("request body too large")
	errItemNotFound = errors.New("item not found")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type message struct {
	Message string `json:"message"`
}

// decodeJSON reads exactly one JSON value from body into v.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return xerrors.WithStack(errBodyTooLarge)
		}
		return xerrors.Mark(err, errBadJSON)
	}
	if dec.More() {
		return xerrors.Mark(xerrors.New("trailing data after JSON value"), errBadJSON)
	}
	return nil
}

// writeError maps domain errors onto status codes. Storage failures and
// anything unexpected are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *contentstore.ValidationError
	switch {
	case errors.As(err, &verr):
		httpmw.WriteDetail(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, contentstore.ErrValidation):
		httpmw.WriteDetail(w, http.StatusBadRequest, contentstore.ErrValidation.Error())
	case errors.Is(err, errBodyTooLarge):
		httpmw.WriteDetail(w, http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
	case errors.Is(err, errBadJSON):
		httpmw.WriteDetail(w, http.StatusBadRequest, "Invalid JSON format")
	case errors.Is(err, contentstore.ErrNotFound):
		httpmw.WriteDetail(w, http.StatusNotFound, "Backup not found")
	case errors.Is(err, errItemNotFound):
		httpmw.WriteDetail(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, contentstore.ErrCorruptBackup):
		httpmw.WriteDetail(w, http.StatusUnprocessableEntity, "Backup is corrupt and cannot be restored")
	default:
		log.FromContext(r.Context()).Error(r.Context(), err, "request failed")
		httpmw.WriteDetail(w, http.StatusInternalServerError, "internal server error")
	}
}
