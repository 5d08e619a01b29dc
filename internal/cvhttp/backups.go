package cvhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

func (a *API) listBackups(w http.ResponseWriter, r *http.Request) {
	names, err := a.store.ListBackups(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, struct {
		Backups []string `json:"backups"`
	}{names})
}

func (a *API) restoreBackup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	doc, err := a.store.RestoreBackup(ctx, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(ctx).Warn(ctx, "cv document restored from backup", "backup", name)
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Data    cv.Document `json:"data"`
	}{true, "Backup restored", doc})
}
