// Package webhook is the Webhook Gateway: a chi-routed HTTP server
// translating GitLab tag-push events into scheduled Builds, plus the
// read-only installation reporting views spec.md §4.4.4 describes
// without committing to a transport. Lifecycle (Start/Stop over
// net/http instead of the teacher's grpc.Server) is grounded on
// internal/daemon/server.go's NewServer/Start/Stop shape.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abogani/inau/internal/builder"
	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/errs"
	"github.com/abogani/inau/pkg/logger"
)

// Dispatcher is the subset of *builder.Pool the gateway needs, narrowed
// to a local interface so it's independently testable.
type Dispatcher interface {
	Dispatch(job builder.Job) bool
}

type Config struct {
	EmailDomain string
	Secret      string // if set, required as the X-Gitlab-Token header
}

type Gateway struct {
	cfg     Config
	catalog *catalog.DB
	pool    Dispatcher
	log     *logger.Logger
	server  *http.Server
}

func New(cfg Config, db *catalog.DB, pool Dispatcher, log *logger.Logger) *Gateway {
	return &Gateway{cfg: cfg, catalog: db, pool: pool, log: log}
}

func (g *Gateway) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", g.handleHealthz)
	r.Post("/webhook", g.handleWebhook)
	r.Get("/installations", g.handleInstallations)
	return r
}

// Start listens and serves on addr, blocking until Stop is called or
// ListenAndServe fails for a reason other than a clean shutdown.
func (g *Gateway) Start(addr string) error {
	g.server = &http.Server{Addr: addr, Handler: g.router()}
	g.log.Info("webhook gateway listening: " + addr)
	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down, draining in-flight
// requests the way daemon/server.go's GracefulStop drains active
// builds.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Secret != "" && r.Header.Get("X-Gitlab-Token") != g.cfg.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook token"})
		return
	}

	var payload GitLabWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed webhook payload"})
		return
	}

	tag, ignoreReason, badRef := admit(payload)
	if badRef {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tag reference"})
		return
	}
	if ignoreReason != "" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ignored: " + ignoreReason})
		return
	}

	repos, err := g.catalog.FindRepositoriesBySourcePath(r.Context(), payload.Project.PathWithNamespace)
	if err != nil {
		g.log.Error("find repositories for webhook", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "catalog lookup failed"})
		return
	}
	if len(repos) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "repository not configured for builds"})
		return
	}

	emails := notifySet(payload, g.cfg.EmailDomain)

	type scheduledBuild struct {
		ID         int64 `json:"id"`
		PlatformID int64 `json:"platform_id"`
	}
	var scheduled []scheduledBuild

	for _, repo := range repos {
		buildID, err := g.catalog.CreateBuild(r.Context(), repo.ID, repo.PlatformID, tag, time.Now())
		if err != nil {
			if errs.KindOf(err) == errs.KindCatalogConflict {
				continue // duplicate delivery: the build already exists, no new job enqueued
			}
			g.log.Error("admit build", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to admit build"})
			return
		}
		build, err := g.catalog.GetBuild(r.Context(), buildID)
		if err != nil {
			g.log.Error("load admitted build", err)
			continue
		}
		g.pool.Dispatch(builder.Job{
			Kind: builder.KindBuild, Build: build, Repository: repo,
			ProviderURL: repo.ProviderURL, DefaultBranch: payload.Project.DefaultBranch,
			NotifyEmails: emails,
		})
		scheduled = append(scheduled, scheduledBuild{ID: build.ID, PlatformID: build.PlatformID})
	}

	if len(scheduled) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no new builds scheduled (already admitted)"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "scheduled builds",
		"builds":  scheduled,
	})
}

func (g *Gateway) handleInstallations(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("view")
	if mode == "" {
		mode = "status"
	}
	rows, err := g.catalog.InstallationReport(r.Context(), mode,
		r.URL.Query().Get("host"), r.URL.Query().Get("facility"), r.URL.Query().Get("repository"))
	if err != nil {
		writeJSON(w, errs.HTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
