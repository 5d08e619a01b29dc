package cvhttp

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// multipartMemory is the in-memory budget for an uploaded CV file. The
// server-wide body cap applies first.
const multipartMemory = 1 << 20

var errNotJSONFile = errors.New("uploaded file is not .json")

type importResult struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	Filename     string    `json:"filename,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	RecordsCount cv.Counts `json:"records_count"`
}

// readImport accepts either a raw JSON body or a multipart form with a
// "file" part whose name ends in .json.
func readImport(r *http.Request) (cv.Document, string, error) {
	var doc cv.Document
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return doc, "", decodeJSON(r.Body, &doc)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return doc, "", xerrors.WithStack(errBodyTooLarge)
		}
		return doc, "", xerrors.Mark(err, errBadJSON)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return doc, "", xerrors.Mark(err, errBadJSON)
	}
	defer f.Close()
	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".json") {
		return doc, hdr.Filename, xerrors.WithStack(errNotJSONFile)
	}
	return doc, hdr.Filename, decodeJSON(f, &doc)
}

func (a *API) importDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, filename, err := readImport(r)
	if errors.Is(err, errNotJSONFile) {
		httpmw.WriteDetail(w, http.StatusBadRequest, "Only JSON files are allowed")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := a.store.Import(ctx, doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(ctx).Info(ctx, "cv document imported", "filename", filename, "document.id", saved.ID)
	writeJSON(w, http.StatusOK, importResult{
		Success:      true,
		Message:      "CV data imported successfully",
		Filename:     filename,
		Timestamp:    a.now().UTC(),
		RecordsCount: saved.Counts(),
	})
}

func (a *API) export(w http.ResponseWriter, r *http.Request) {
	doc, err := a.store.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success      bool        `json:"success"`
		Data         cv.Document `json:"data"`
		ExportedAt   time.Time   `json:"exported_at"`
		RecordsCount cv.Counts   `json:"records_count"`
	}{true, doc, a.now().UTC(), doc.Counts()})
}

func (a *API) clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.store.Clear(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(ctx).Warn(ctx, "cv document cleared")
	writeJSON(w, http.StatusOK, struct {
		Success   bool      `json:"success"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}{true, "CV data reset to defaults; previous document kept as a backup", a.now().UTC()})
}

type statusResponse struct {
	Initialized  bool       `json:"initialized"`
	Message      string     `json:"message"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	RecordsCount *cv.Counts `json:"records_count,omitempty"`
	Backups      int        `json:"backups"`
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statusResponse{Backups: st.Backups}
	if !st.Initialized {
		resp.Message = "No CV data found. Import a JSON file or save content to initialize."
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Initialized = true
	resp.Message = "CV data is available"
	resp.RecordsCount = &st.Counts
	if !st.UpdatedAt.IsZero() {
		u := st.UpdatedAt.UTC()
		resp.LastUpdated = &u
	}
	writeJSON(w, http.StatusOK, resp)
}
