package cvhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/authgate"
	"github.com/keithlinneman/linnemanlabs-cv/internal/contentstore"
	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// Store is the subset of *contentstore.Store the API drives.
type Store interface {
	Load(ctx context.Context) (cv.Document, error)
	Export(ctx context.Context) (cv.Document, error)
	Update(ctx context.Context, p cv.Patch) (cv.Document, error)
	Mutate(ctx context.Context, fn func(*cv.Document) error) (cv.Document, error)
	Import(ctx context.Context, doc cv.Document) (cv.Document, error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) (contentstore.Status, error)
	ListBackups(ctx context.Context) ([]string, error)
	RestoreBackup(ctx context.Context, name string) (cv.Document, error)
}

// Authenticator is the subset of *authgate.Gate the API drives.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (authgate.Token, error)
	VerifyToken(token string) (string, error)
	IsPrincipal(username string) bool
}

type Options struct {
	Store  Store
	Auth   Authenticator
	Logger log.Logger

	// Clock for response timestamps (default time.Now)
	Now func() time.Time

	// Optional middleware in front of the login route, typically the per-IP
	// limiter.
	LoginLimiter func(http.Handler) http.Handler

	// Observability hooks, all optional.
	// OnLogin results: "success", "invalid", "bad_request", "error".
	// OnTokenRejected reasons: "missing", "expired", "invalid".
	OnLogin         func(result string)
	OnTokenRejected func(reason string)
}

// API serves the /api routes.
type API struct {
	store  Store
	auth   Authenticator
	logger log.Logger
	now    func() time.Time

	loginLimiter    func(http.Handler) http.Handler
	onLogin         func(string)
	onTokenRejected func(string)
}

func New(opts Options) (*API, error) {
	if opts.Store == nil {
		return nil, xerrors.New("cvhttp: Store is required")
	}
	if opts.Auth == nil {
		return nil, xerrors.New("cvhttp: Auth is required")
	}
	a := &API{
		store:           opts.Store,
		auth:            opts.Auth,
		logger:          opts.Logger,
		now:             opts.Now,
		loginLimiter:    opts.LoginLimiter,
		onLogin:         opts.OnLogin,
		onTokenRejected: opts.OnTokenRejected,
	}
	if a.logger == nil {
		a.logger = log.Nop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.onLogin == nil {
		a.onLogin = func(string) {}
	}
	if a.onTokenRejected == nil {
		a.onTokenRejected = func(string) {}
	}
	return a, nil
}

// RegisterRoutes mounts the API on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/content", func(r chi.Router) {
		r.Use(httpmw.Scope("content"))
		r.Get("/", a.getContent)
		r.Group(func(r chi.Router) {
			r.Use(a.RequireBearer)
			r.Put("/", a.updateContent)
			r.Post("/experience", a.addExperience)
			r.Delete("/experience/{id}", a.deleteExperience)
			r.Post("/education", a.addEducation)
			r.Delete("/education/{id}", a.deleteEducation)
		})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(httpmw.Scope("auth"))
		login := http.Handler(http.HandlerFunc(a.login))
		if a.loginLimiter != nil {
			login = a.loginLimiter(login)
		}
		r.Method(http.MethodPost, "/login", login)
		r.With(a.RequireBearer).Post("/verify", a.verify)
	})

	r.Route("/api/import", func(r chi.Router) {
		r.Use(httpmw.Scope("import"))
		r.Get("/status", a.status)
		r.Group(func(r chi.Router) {
			r.Use(a.RequireBearer)
			r.Post("/cv-data", a.importDocument)
			r.Delete("/cv-data", a.clear)
			r.Get("/export", a.export)
		})
	})

	r.Route("/api/backups", func(r chi.Router) {
		r.Use(httpmw.Scope("backups"), a.RequireBearer)
		r.Get("/", a.listBackups)
		r.Post("/{name}/restore", a.restoreBackup)
	})
}
