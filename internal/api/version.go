package api

import (
	"net/http"
	"runtime"

	"github.com/arisu-i18n/arisu/internal/api/problem"
)

// versionResponse represents the data of the /version endpoint
type versionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// VersionHandler returns build metadata wrapped in the success envelope.
// Values are set via ldflags; missing ones read "dev" or "unknown".
func VersionHandler(version, gitCommit, buildDate string) http.Handler {
	if version == "" {
		version = "dev"
	}
	if gitCommit == "" {
		gitCommit = "unknown"
	}
	if buildDate == "" {
		buildDate = "unknown"
	}

	response := versionResponse{
		Version:   version,
		GitCommit: gitCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.WriteData(w, http.StatusOK, response)
	})
}
