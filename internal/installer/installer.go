// Package installer places a previously-built Artifact set onto the
// fleet: GLOBAL (every host on every server a repository's platform
// serves), FACILITY (every host within one facility), or HOST (a
// single named host). Grounded on original_source/inau.py's install()
// and its three callers (CSInstallationsHandler, FacilityInstallationsHandler,
// HostInstallationsHandler POST handlers), which build a
// server->hosts destination map before the same SFTP-stage +
// rm/install -d/install -m remote sequence runs once per server.
package installer

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/errs"
	"github.com/abogani/inau/internal/sshexec"
	"github.com/abogani/inau/pkg/logger"
)

// Scope mirrors catalog.InstallationType, named for this package's API
// so callers don't have to reach into catalog for a request parameter.
type Scope = catalog.InstallationType

const (
	ScopeGlobal   = catalog.InstallationGlobal
	ScopeFacility = catalog.InstallationFacility
	ScopeHost     = catalog.InstallationHost
)

// ArtifactSource is the subset of *store.Store the Installer needs: a
// reader for a previously-ingested artifact's content, keyed by hash.
type ArtifactSource interface {
	Open(hexHash string) (*os.File, error)
}

type Deps struct {
	Catalog *catalog.DB
	Store   ArtifactSource
	SSH     sshexec.Client
	Log     *logger.Logger
}

// Request names what to install and where. FacilityName is required
// for ScopeFacility and ScopeHost; HostName is required for ScopeHost
// only.
type Request struct {
	Username     string
	Repository   string
	Tag          string
	Scope        Scope
	FacilityName string
	HostName     string
}

// Result is one row of install() 's Python return value: one entry per
// host an artifact set landed on.
type Result struct {
	Facility   string
	Host       string
	Repository string
	Tag        string
	Date       time.Time
	Author     string
}

// destination is one server and the hosts on it that should receive an
// Installation record, the Go shape of inau.py's
// `destinations[host.server] = {host}` dict-of-sets.
type destination struct {
	server catalog.Server
	hosts  []catalog.Host
}

// Install resolves req's scope into one or more servers, stages and
// places the repository's latest matching artifact set on each, and
// records an Installation row per (host, build) pair once its server's
// remote operations all succeed.
func Install(ctx context.Context, deps Deps, req Request) ([]Result, error) {
	if _, err := deps.Catalog.GetUserByName(ctx, req.Username); err != nil {
		return nil, err
	}

	destinations, err := resolveDestinations(ctx, deps.Catalog, req)
	if err != nil {
		return nil, err
	}
	if len(destinations) == 0 {
		return nil, errs.NotFound("no destination hosts for this request")
	}

	var results []Result
	for _, dest := range destinations {
		repo, err := deps.Catalog.FindRepositoryByName(ctx, dest.server.PlatformID, req.Repository)
		if err != nil {
			return nil, err
		}
		build, err := findSuccessfulBuild(ctx, deps.Catalog, repo.ID, dest.server.PlatformID, req.Tag)
		if err != nil {
			return nil, err
		}

		if err := placeOnServer(ctx, deps, dest, repo, build, req.Scope); err != nil {
			return nil, err
		}

		now := time.Now()
		for _, host := range dest.hosts {
			user, err := deps.Catalog.GetUserByName(ctx, req.Username)
			if err != nil {
				return nil, err
			}
			if _, err := deps.Catalog.RecordInstallation(ctx, catalog.Installation{
				HostID: host.ID, UserID: user.ID, BuildID: build.ID,
				Type: req.Scope, InstallDate: now,
			}); err != nil {
				return nil, err
			}
			results = append(results, Result{
				Facility: req.FacilityName, Host: host.Name,
				Repository: req.Repository, Tag: build.Tag,
				Date: now, Author: req.Username,
			})
		}
	}
	return results, nil
}

// findSuccessfulBuild looks up the build to install: the highest-id
// SUCCESS build for (repository_id, platform_id, tag), matching
// install()'s `Builds.status == 0` tag/status filter (status 0 in the
// original's numbering is the build's terminal success state, not this
// catalog's BuildScheduled).
func findSuccessfulBuild(ctx context.Context, db *catalog.DB, repositoryID, platformID int64, tag string) (catalog.Build, error) {
	return db.FindSuccessfulBuildByTag(ctx, repositoryID, platformID, tag)
}

// resolveDestinations builds the server->hosts map install()'s three
// callers each assemble inline.
func resolveDestinations(ctx context.Context, db *catalog.DB, req Request) ([]destination, error) {
	switch req.Scope {
	case ScopeHost:
		facility, err := db.GetFacilityByName(ctx, req.FacilityName)
		if err != nil {
			return nil, err
		}
		host, err := db.GetHostByFacilityAndName(ctx, facility.ID, req.HostName)
		if err != nil {
			return nil, err
		}
		server, err := db.GetServer(ctx, host.ServerID)
		if err != nil {
			return nil, err
		}
		return []destination{{server: server, hosts: []catalog.Host{host}}}, nil

	case ScopeFacility:
		facility, err := db.GetFacilityByName(ctx, req.FacilityName)
		if err != nil {
			return nil, err
		}
		repos, err := db.FindRepositoriesByNameAcrossPlatforms(ctx, req.Repository)
		if err != nil {
			return nil, err
		}
		byServer := map[int64]*destination{}
		for _, repo := range repos {
			hosts, err := db.ListHostsForFacility(ctx, facility.ID, repo.PlatformID)
			if err != nil {
				return nil, err
			}
			for _, h := range hosts {
				addHost(byServer, db, ctx, h)
			}
		}
		return flattenDestinations(ctx, db, byServer)

	default: // ScopeGlobal
		repos, err := db.FindRepositoriesByNameAcrossPlatforms(ctx, req.Repository)
		if err != nil {
			return nil, err
		}
		byServer := map[int64]*destination{}
		for _, repo := range repos {
			servers, err := db.ListServersForPlatform(ctx, repo.PlatformID)
			if err != nil {
				return nil, err
			}
			for _, srv := range servers {
				hosts, err := db.ListHostsForServer(ctx, srv.ID)
				if err != nil {
					return nil, err
				}
				for _, h := range hosts {
					addHost(byServer, db, ctx, h)
				}
			}
		}
		return flattenDestinations(ctx, db, byServer)
	}
}

func addHost(byServer map[int64]*destination, db *catalog.DB, ctx context.Context, h catalog.Host) {
	d, ok := byServer[h.ServerID]
	if !ok {
		d = &destination{}
		byServer[h.ServerID] = d
	}
	d.hosts = append(d.hosts, h)
}

func flattenDestinations(ctx context.Context, db *catalog.DB, byServer map[int64]*destination) ([]destination, error) {
	var out []destination
	for serverID, d := range byServer {
		server, err := db.GetServer(ctx, serverID)
		if err != nil {
			return nil, err
		}
		d.server = server
		out = append(out, *d)
	}
	return out, nil
}

// placeOnServer stages every artifact of build onto server's host (or
// hosts, for HOST scope) over SFTP, exactly mirroring install()'s
// putfo-to-/tmp + rm + install -d + install -m sequence.
func placeOnServer(ctx context.Context, deps Deps, dest destination, repo catalog.Repository, build catalog.Build, scope Scope) error {
	artifacts, err := deps.Catalog.ListArtifacts(ctx, build.ID)
	if err != nil {
		return err
	}

	rule := PlacementFor(repo.Type)
	sharedScope := scope == ScopeGlobal || scope == ScopeFacility
	for _, artifact := range artifacts {
		// spec.md §4.4.2 + worked example S3: the LIBRARY cmake/pkgconfig
		// developer subtrees are excluded from the shared GLOBAL/FACILITY
		// destination, not from an individual HOST — see placement.go's
		// SkipForSharedScope doc comment for the reasoning.
		if sharedScope && rule.SkipForSharedScope != nil && rule.SkipForSharedScope(artifact.Filename) {
			continue
		}

		if artifact.IsSymlink() {
			// Reconstituted as a symlink rather than staged/installed:
			// spec.md §4.4.2's `ln -sfn <prefix><symlink_target>
			// <prefix><filename>`.
			var placeErr error
			if sharedScope {
				placeErr = placeSymlinkShared(ctx, deps, dest.server, repo, artifact, rule.RootOnly)
			} else {
				for _, host := range dest.hosts {
					if placeErr = placeSymlinkPerHost(ctx, deps, dest.server, host, repo, artifact, rule.RootOnly); placeErr != nil {
						break
					}
				}
			}
			if placeErr != nil {
				return placeErr
			}
			continue
		}

		f, err := deps.Store.Open(artifact.Hash)
		if err != nil {
			return err
		}
		stagedPath := "/tmp/" + artifact.Hash
		uploadErr := deps.SSH.Upload(ctx, dest.server.Hostname, f, stagedPath, 0o644)
		f.Close()
		if uploadErr != nil {
			return uploadErr
		}

		fileMode := rule.FileMode
		if fileMode == "" {
			fileMode = fmt.Sprintf("%03o", artifact.Mode) // LIBRARY: preserve the artifact's own recorded mode
		}

		var placeErr error
		if sharedScope {
			placeErr = placeShared(ctx, deps, dest.server, repo, artifact, stagedPath, fileMode, rule.RootOnly)
		} else {
			for _, host := range dest.hosts {
				if placeErr = placePerHost(ctx, deps, dest.server, host, repo, artifact, stagedPath, fileMode, rule.RootOnly); placeErr != nil {
					break
				}
			}
		}

		deps.SSH.Remove(ctx, dest.server.Hostname, stagedPath)
		if placeErr != nil {
			return placeErr
		}
	}
	return nil
}

func placeShared(ctx context.Context, deps Deps, server catalog.Server, repo catalog.Repository, artifact catalog.Artifact, stagedPath, fileMode string, rootOnly bool) error {
	destRoot := repo.DestinationPath
	if rootOnly {
		destRoot = "/"
	}
	destDir := path.Dir(path.Join(destRoot, artifact.Filename))
	destFile := path.Join(destRoot, artifact.Filename)

	stale := fmt.Sprintf("rm %s/site/*/%s", server.Prefix, destFile)
	if _, err := deps.SSH.Run(ctx, server.Hostname, stale, 0); err != nil {
		deps.Log.Error("remove stale per-host overlay", err)
	}

	mkdir := fmt.Sprintf("install -d %s%s", server.Prefix, destDir)
	if _, err := deps.SSH.Run(ctx, server.Hostname, mkdir, 0); err != nil {
		return err
	}

	install := fmt.Sprintf("install -m%s %s %s%s", fileMode, stagedPath, server.Prefix, destFile)
	res, err := deps.SSH.Run(ctx, server.Hostname, install, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.TransientRemote("install "+destFile, fmt.Errorf("%s", res.Stderr))
	}
	return nil
}

// placeSymlinkShared reconstitutes a symlink Artifact at the shared
// GLOBAL/FACILITY destination: `ln -sfn <prefix><symlink_target>
// <prefix><filename>`, same prefix the regular-file branch installs to.
func placeSymlinkShared(ctx context.Context, deps Deps, server catalog.Server, repo catalog.Repository, artifact catalog.Artifact, rootOnly bool) error {
	destRoot := repo.DestinationPath
	if rootOnly {
		destRoot = "/"
	}
	destDir := path.Dir(path.Join(destRoot, artifact.Filename))
	destFile := path.Join(destRoot, artifact.Filename)
	target := path.Join(destRoot, artifact.SymlinkTarget)

	stale := fmt.Sprintf("rm %s/site/*/%s", server.Prefix, destFile)
	if _, err := deps.SSH.Run(ctx, server.Hostname, stale, 0); err != nil {
		deps.Log.Error("remove stale per-host overlay", err)
	}

	mkdir := fmt.Sprintf("install -d %s%s", server.Prefix, destDir)
	if _, err := deps.SSH.Run(ctx, server.Hostname, mkdir, 0); err != nil {
		return err
	}

	ln := fmt.Sprintf("ln -sfn %s%s %s%s", server.Prefix, target, server.Prefix, destFile)
	res, err := deps.SSH.Run(ctx, server.Hostname, ln, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.TransientRemote("ln "+destFile, fmt.Errorf("%s", res.Stderr))
	}
	return nil
}

// placeSymlinkPerHost is placeSymlinkShared's HOST-scope counterpart,
// confined to the per-host subtree the way placePerHost is.
func placeSymlinkPerHost(ctx context.Context, deps Deps, server catalog.Server, host catalog.Host, repo catalog.Repository, artifact catalog.Artifact, rootOnly bool) error {
	destRoot := repo.DestinationPath
	if rootOnly {
		destRoot = "/"
	}
	destDir := path.Dir(path.Join("/site", host.Name, destRoot, artifact.Filename))
	destFile := path.Join("/site", host.Name, destRoot, artifact.Filename)
	target := path.Join("/site", host.Name, destRoot, artifact.SymlinkTarget)

	mkdir := fmt.Sprintf("install -d %s%s", server.Prefix, destDir)
	if _, err := deps.SSH.Run(ctx, server.Hostname, mkdir, 0); err != nil {
		return err
	}

	ln := fmt.Sprintf("ln -sfn %s%s %s%s", server.Prefix, target, server.Prefix, destFile)
	res, err := deps.SSH.Run(ctx, server.Hostname, ln, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.TransientRemote("ln "+destFile, fmt.Errorf("%s", res.Stderr))
	}
	return nil
}

func placePerHost(ctx context.Context, deps Deps, server catalog.Server, host catalog.Host, repo catalog.Repository, artifact catalog.Artifact, stagedPath, fileMode string, rootOnly bool) error {
	destRoot := repo.DestinationPath
	if rootOnly {
		destRoot = "/"
	}
	destDir := path.Dir(path.Join("/site", host.Name, destRoot, artifact.Filename))
	destFile := path.Join("/site", host.Name, destRoot, artifact.Filename)

	mkdir := fmt.Sprintf("install -d %s%s", server.Prefix, destDir)
	if _, err := deps.SSH.Run(ctx, server.Hostname, mkdir, 0); err != nil {
		return err
	}

	install := fmt.Sprintf("install -m%s %s %s%s", fileMode, stagedPath, server.Prefix, destFile)
	res, err := deps.SSH.Run(ctx, server.Hostname, install, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errs.TransientRemote("install "+destFile, fmt.Errorf("%s", res.Stderr))
	}
	return nil
}
