package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abogani/inau/internal/builder"
	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/pkg/logger"
)

type fakeDispatcher struct {
	jobs []builder.Job
}

func (f *fakeDispatcher) Dispatch(job builder.Job) bool {
	f.jobs = append(f.jobs, job)
	return true
}

func newTestGateway(t *testing.T) (*Gateway, *fakeDispatcher, *catalog.DB, int64) {
	t.Helper()
	ctx := context.Background()

	db, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	platformID, err := db.CreatePlatform(ctx, catalog.Platform{Distribution: "debian", Version: "12", Architecture: "amd64"})
	if err != nil {
		t.Fatalf("seed platform: %v", err)
	}
	if _, err := db.CreateRepository(ctx, catalog.Repository{
		PlatformID: platformID, ProviderURL: "git@gitlab.example.org:grp/proj.git",
		SourcePath: "grp/proj", Type: catalog.RepositoryCPlusPlus, DestinationPath: "/opt/proj/", Enabled: true,
	}); err != nil {
		t.Fatalf("seed repository: %v", err)
	}

	disp := &fakeDispatcher{}
	gw := New(Config{EmailDomain: "example.org"}, db, disp, logger.NewDefault())
	return gw, disp, db, platformID
}

func postWebhook(gw *Gateway, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	gw.router().ServeHTTP(rec, req)
	return rec
}

func TestWebhookSchedulesBuildForTagPush(t *testing.T) {
	gw, disp, _, _ := newTestGateway(t)

	rec := postWebhook(gw, GitLabWebhook{
		ObjectKind:   "tag_push",
		Before:       zeroSHA,
		After:        "abc123",
		Ref:          "refs/tags/v2.0.0",
		UserUsername: "alice",
		Project:      GitLabProject{PathWithNamespace: "grp/proj", SSHURL: "git@gitlab.example.org:grp/proj.git"},
		Commits:      []GitLabCommit{{ID: "def456", Author: GitLabCommitAuthor{Email: "alice@upstream.example"}}},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(disp.jobs) != 1 {
		t.Fatalf("dispatched jobs = %d, want 1", len(disp.jobs))
	}
	job := disp.jobs[0]
	if job.Build.Tag != "v2.0.0" {
		t.Fatalf("job tag = %q, want v2.0.0", job.Build.Tag)
	}
	wantEmails := []string{"alice@upstream.example", "alice@example.org"}
	if len(job.NotifyEmails) != len(wantEmails) {
		t.Fatalf("NotifyEmails = %v, want %v", job.NotifyEmails, wantEmails)
	}
}

func TestWebhookIgnoresLightweightTagAndDeletion(t *testing.T) {
	gw, disp, _, _ := newTestGateway(t)

	rec := postWebhook(gw, GitLabWebhook{
		ObjectKind: "tag_push", After: "abc123", Ref: "refs/tags/v2.0.0",
		Project: GitLabProject{PathWithNamespace: "grp/proj", SSHURL: "git@gitlab.example.org:grp/proj.git"},
		Commits: []GitLabCommit{{ID: "abc123"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("lightweight tag: status = %d, want 200", rec.Code)
	}

	rec = postWebhook(gw, GitLabWebhook{
		ObjectKind: "tag_push", After: zeroSHA, Ref: "refs/tags/v2.0.0",
		Project: GitLabProject{PathWithNamespace: "grp/proj", SSHURL: "git@gitlab.example.org:grp/proj.git"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("tag deletion: status = %d, want 200", rec.Code)
	}

	if len(disp.jobs) != 0 {
		t.Fatalf("dispatched jobs = %d, want 0", len(disp.jobs))
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	gw, disp, _, _ := newTestGateway(t)
	payload := GitLabWebhook{
		ObjectKind: "tag_push", After: "abc123", Ref: "refs/tags/v2.0.0",
		Project: GitLabProject{PathWithNamespace: "grp/proj", SSHURL: "git@gitlab.example.org:grp/proj.git"},
		Commits: []GitLabCommit{{ID: "def456", Author: GitLabCommitAuthor{Email: "a@b.com"}}},
	}

	if rec := postWebhook(gw, payload); rec.Code != http.StatusCreated {
		t.Fatalf("first delivery: status = %d, want 201", rec.Code)
	}
	rec := postWebhook(gw, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d, want 200", rec.Code)
	}
	if len(disp.jobs) != 1 {
		t.Fatalf("dispatched jobs = %d, want 1 (no duplicate)", len(disp.jobs))
	}
}

func TestWebhookUnauthorizedWithoutSecret(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	gw.cfg.Secret = "s3cret"

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	gw.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	gw.router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestInstallationsReportEndpoint(t *testing.T) {
	gw, _, db, platformID := newTestGateway(t)
	ctx := context.Background()

	facilityID, err := db.CreateFacility(ctx, catalog.Facility{Name: "hall-a"})
	if err != nil {
		t.Fatalf("seed facility: %v", err)
	}
	serverID, err := db.CreateServer(ctx, catalog.Server{PlatformID: platformID, Hostname: "srv1.local", Prefix: "/mnt/fs"})
	if err != nil {
		t.Fatalf("seed server: %v", err)
	}
	hostID, err := db.CreateHost(ctx, catalog.Host{ServerID: serverID, FacilityID: facilityID, PlatformID: platformID, Name: "ctrl1"})
	if err != nil {
		t.Fatalf("seed host: %v", err)
	}
	userID, err := db.CreateUser(ctx, catalog.User{Name: "alice"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	repo, err := db.FindRepositoryByName(ctx, platformID, "grp/proj")
	if err != nil {
		t.Fatalf("FindRepositoryByName: %v", err)
	}
	buildID, err := db.CreateBuild(ctx, repo.ID, platformID, "v1.0.0", time.Now())
	if err != nil {
		t.Fatalf("seed build: %v", err)
	}
	if _, err := db.RecordInstallation(ctx, catalog.Installation{
		HostID: hostID, UserID: userID, BuildID: buildID,
		Type: catalog.InstallationHost, InstallDate: time.Now(),
	}); err != nil {
		t.Fatalf("seed installation: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/installations?view=history&host=ctrl1", nil)
	rec := httptest.NewRecorder()
	gw.router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var rows []catalog.InstallationReportRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(rows) != 1 || rows[0].Host != "ctrl1" {
		t.Fatalf("rows = %+v, want one row for ctrl1", rows)
	}
}
