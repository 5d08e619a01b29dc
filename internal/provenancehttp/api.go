// Package provenancehttp serves what build is running and which document
// revision it is serving.
package provenancehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/contentstore"
	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/version"
)

// StatusProvider reports the content store state without seeding it.
type StatusProvider interface {
	Status(ctx context.Context) (contentstore.Status, error)
}

type API struct {
	store     StatusProvider
	build     version.Info
	startedAt time.Time
	now       func() time.Time
	logger    log.Logger
}

// NewAPI captures build info and the process start time once.
func NewAPI(store StatusProvider, build version.Info, now func() time.Time, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &API{
		store:     store,
		build:     build,
		startedAt: now().UTC().Truncate(time.Second),
		now:       now,
		logger:    logger,
	}
}

func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/provenance", api.HandleProvenance)
	r.Get("/api/provenance/summary", api.HandleSummary)
}

type ProvenanceResponse struct {
	Build    version.Info `json:"build"`
	Runtime  RuntimeInfo  `json:"runtime"`
	Document DocumentInfo `json:"document"`

	// set when the store could not be read
	Error string `json:"error,omitempty"`
}

type RuntimeInfo struct {
	StartedAt  time.Time `json:"started_at"`
	ServerTime time.Time `json:"server_time"`
}

type DocumentInfo struct {
	Initialized bool       `json:"initialized"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Counts      *cv.Counts `json:"records_count,omitempty"`
	Backups     int        `json:"backups"`
}

// SummaryResponse is the short form shown in the site footer.
type SummaryResponse struct {
	Version     string     `json:"version"`
	CommitShort string     `json:"commit_short"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (api *API) document(ctx context.Context) (DocumentInfo, error) {
	st, err := api.store.Status(ctx)
	if err != nil {
		return DocumentInfo{}, err
	}
	d := DocumentInfo{Initialized: st.Initialized, Backups: st.Backups}
	if st.Initialized {
		c := st.Counts
		d.Counts = &c
		if !st.UpdatedAt.IsZero() {
			u := st.UpdatedAt.UTC()
			d.UpdatedAt = &u
		}
	}
	return d, nil
}

func (api *API) HandleProvenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := ProvenanceResponse{
		Build: api.build,
		Runtime: RuntimeInfo{
			StartedAt:  api.startedAt,
			ServerTime: api.now().UTC().Truncate(time.Second),
		},
	}

	doc, err := api.document(ctx)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "read content status for provenance")
		resp.Error = "content status unavailable"
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Document = doc
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := SummaryResponse{
		Version:     api.build.Version,
		CommitShort: shortCommit(api.build.Commit),
	}
	// the summary degrades to build info alone
	if doc, err := api.document(ctx); err == nil {
		resp.UpdatedAt = doc.UpdatedAt
	} else {
		log.FromContext(ctx).Warn(ctx, "content status unavailable for summary", "error", err)
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
