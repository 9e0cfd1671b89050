// Package catalog is the thin data-access layer over INAU's relational
// state: platforms, repositories, builds, artifacts, servers, facilities,
// hosts, installations, users. It owns exactly the queries the Builder
// Pool, Webhook Gateway, and Installer need (catalog CRUD for
// administering these rows lives in the out-of-scope admin REST
// surface, never here).
package catalog

import "time"

// RepositoryType mirrors original_source/inau.py's and models.py's
// IntEnum ordering exactly (cplusplus=0, python=1, configuration=2,
// shellscript=3). Library is new: the original has no library
// repository type, and this is spec.md's supplemental fifth kind,
// appended rather than inserted so the first four numeric values stay
// wire-compatible with the original encoding.
type RepositoryType int

const (
	RepositoryCPlusPlus RepositoryType = iota
	RepositoryPython
	RepositoryConfiguration
	RepositoryShellScript
	RepositoryLibrary
)

func (t RepositoryType) String() string {
	switch t {
	case RepositoryCPlusPlus:
		return "CPLUSPLUS"
	case RepositoryPython:
		return "PYTHON"
	case RepositoryConfiguration:
		return "CONFIGURATION"
	case RepositoryShellScript:
		return "SHELLSCRIPT"
	case RepositoryLibrary:
		return "LIBRARY"
	default:
		return "UNKNOWN"
	}
}

// BuildStatus uses the canonical encoding spec.md §9 pins down.
type BuildStatus int

const (
	BuildScheduled BuildStatus = iota
	BuildRunning
	BuildSuccess
	BuildFailed
	BuildCancelled
)

func (s BuildStatus) String() string {
	switch s {
	case BuildScheduled:
		return "SCHEDULED"
	case BuildRunning:
		return "RUNNING"
	case BuildSuccess:
		return "SUCCESS"
	case BuildFailed:
		return "FAILED"
	case BuildCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// InstallationType selects the destination scope of an install request.
type InstallationType int

const (
	InstallationGlobal InstallationType = iota
	InstallationFacility
	InstallationHost
)

func (t InstallationType) String() string {
	switch t {
	case InstallationGlobal:
		return "GLOBAL"
	case InstallationFacility:
		return "FACILITY"
	case InstallationHost:
		return "HOST"
	default:
		return "UNKNOWN"
	}
}

type Platform struct {
	ID           int64
	Distribution string
	Version      string
	Architecture string
}

type Repository struct {
	ID              int64
	PlatformID      int64
	ProviderURL     string
	SourcePath      string
	Type            RepositoryType
	DestinationPath string
	Enabled         bool
}

type Builder struct {
	ID          int64
	PlatformID  int64
	Hostname    string
	Environment string // optional env-file path sourced before the build, "" if unset
}

type Build struct {
	ID           int64
	RepositoryID int64
	PlatformID   int64
	Tag          string
	Date         time.Time
	Status       BuildStatus
	Output       string
}

type Artifact struct {
	ID            int64
	BuildID       int64
	BuildDate     time.Time
	Filename      string
	Hash          string // set for regular files, "" for symlinks
	Mode          uint32 // Unix permission bits as collected from the build host, e.g. 0644
	SymlinkTarget string // set for symlinks, "" for regular files
}

func (a Artifact) IsSymlink() bool { return a.SymlinkTarget != "" }

type Server struct {
	ID         int64
	PlatformID int64
	Hostname   string
	Prefix     string
}

type Facility struct {
	ID   int64
	Name string
}

type Host struct {
	ID         int64
	ServerID   int64
	FacilityID int64
	PlatformID int64
	Name       string
}

type User struct {
	ID     int64
	Name   string
	Admin  bool
	Notify bool
}

type Installation struct {
	ID          int64
	HostID      int64
	UserID      int64
	BuildID     int64
	Type        InstallationType
	InstallDate time.Time
	ValidFrom   time.Time
	ValidTo     *time.Time
}
