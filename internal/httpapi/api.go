// Package httpapi is the HTTP surface of the bug tracker: routing, middleware,
// authentication, guards and the resource handlers.
package httpapi

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bugtracker.org/internal/audit"
	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/obs"
	"bugtracker.org/internal/tracker"
)

const serviceName = "bugtracker-api"

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	Store tracker.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options tunes an API. Zero values select the defaults.
type Options struct {
	Logger          *zap.Logger
	Version         string
	HashCost        int
	CookieMaxAge    time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
	RateLimitBurst  int
	RateLimitPerSec float64
	// Outcome decides a test execution; nil draws uniformly at random.
	Outcome func() bool
	Now     func() time.Time
}

// API wires the store, token issuer and audit recorder into an http.Handler.
type API struct {
	router       *mux.Router
	store        tracker.Store
	tokens       *auth.TokenIssuer
	audit        *audit.Recorder
	readyProbe   ReadyProbe
	log          *zap.Logger
	validate     *validator.Validate
	version      string
	hashCost     int
	cookieMaxAge time.Duration
	maxBody      int64
	corsOrigins  []string
	rateBurst    int
	ratePerSec   float64
	outcome      func() bool
	now          func() time.Time
}

func New(store tracker.Store, tokens *auth.TokenIssuer, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HashCost == 0 {
		opts.HashCost = auth.DefaultHashCost
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = tokens.TTL()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10
	}
	if opts.Outcome == nil {
		opts.Outcome = func() bool { return rand.Intn(2) == 1 }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &API{
		router:       mux.NewRouter(),
		store:        store,
		tokens:       tokens,
		audit:        audit.NewRecorder(store.Edits(), opts.Logger),
		readyProbe:   ReadyProbe{Store: store},
		log:          opts.Logger,
		validate:     newValidator(),
		version:      opts.Version,
		hashCost:     opts.HashCost,
		cookieMaxAge: opts.CookieMaxAge,
		maxBody:      opts.MaxBodyBytes,
		corsOrigins:  opts.CORSOrigins,
		rateBurst:    opts.RateLimitBurst,
		ratePerSec:   opts.RateLimitPerSec,
		outcome:      opts.Outcome,
		now:          opts.Now,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// health/ready/info
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	viewData := RequirePermission(auth.PermViewData)

	// users; fixed segments before {userId}
	a.route("/api/user/register", http.MethodPost, a.register)
	a.route("/api/user/login", http.MethodPost, a.login)
	a.route("/api/user/logout", http.MethodPost, a.logout)
	a.route("/api/user/list", http.MethodGet, a.listUsers, viewData)
	a.route("/api/user/me", http.MethodGet, a.getMe, RequireAuth)
	a.route("/api/user/me", http.MethodPut, a.updateMe, RequireAuth)
	a.route("/api/user/{userId}", http.MethodGet, a.getUser, viewData)
	a.route("/api/user/{userId}", http.MethodPut, a.updateUser, RequirePermission(auth.PermEditAnyUser))
	a.route("/api/user/{userId}", http.MethodDelete, a.deleteUser,
		RequireAnyRole(auth.RoleTechnicalManager, auth.RoleProductManager))

	// bugs
	a.route("/api/bug/list", http.MethodGet, a.listBugs, viewData)
	a.route("/api/bug/new", http.MethodPut, a.newBug, RequireAuth)
	a.route("/api/bug/{bugId}", http.MethodGet, a.getBug, RequireAuth)
	a.route("/api/bug/{bugId}", http.MethodPut, a.updateBug, RequireAuth)
	a.route("/api/bug/{bugId}/classify", http.MethodPut, a.classifyBug, RequirePermission(auth.PermClassifyAnyBug))
	a.route("/api/bug/{bugId}/assign", http.MethodPut, a.assignBug, RequirePermission(auth.PermReassignAnyBug))
	a.route("/api/bug/{bugId}/close", http.MethodPut, a.closeBug, RequirePermission(auth.PermCloseAnyBug))

	// comments
	a.route("/api/bug/{bugId}/comment/list", http.MethodGet, a.listComments, RequireAuth)
	a.route("/api/bug/{bugId}/comment/new", http.MethodPut, a.newComment, RequirePermission(auth.PermAddComments))
	a.route("/api/bug/{bugId}/comment/{commentId}", http.MethodGet, a.getComment, RequireAuth)

	// tests
	qa := RequireRole(auth.RoleQualityAnalyst)
	a.route("/api/bug/{bugId}/test/list", http.MethodGet, a.listTests, RequireAuth)
	a.route("/api/bug/{bugId}/test/new", http.MethodPut, a.newTest, qa)
	a.route("/api/bug/{bugId}/test/{testId}", http.MethodGet, a.getTest, RequireAuth)
	a.route("/api/bug/{bugId}/test/{testId}", http.MethodPut, a.updateTest, qa)
	a.route("/api/bug/{bugId}/test/{testId}/execute", http.MethodPut, a.executeTest, RequirePermission(auth.PermExecuteTestCase))
	a.route("/api/bug/{bugId}/test/{testId}", http.MethodDelete, a.deleteTest, RequirePermission(auth.PermDeleteTestCase))
}

// route registers h behind guards, outermost first.
func (a *API) route(path, method string, h http.HandlerFunc, guards ...Middleware) {
	var handler http.Handler = h
	for i := len(guards) - 1; i >= 0; i-- {
		handler = guards[i](handler)
	}
	a.router.Handle(path, handler).Methods(method)
}

// Handler returns the router wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.Authenticate(h)
	h = MaxBodyBytes(a.maxBody)(h)
	h = RateLimit(a.rateBurst, a.ratePerSec)(h)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Recover(a.log)(h)
	h = Logging(a.log)(h)
	return RequestID(h)
}
