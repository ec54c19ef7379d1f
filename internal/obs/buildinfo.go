package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo — gauge = 1 с метками версии, коммита и версии Go.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edudesk_build_info",
			Help: "edudesk identity service build information.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo registers edudesk_build_info once and sets it. A commit of
// "" or "dev" is replaced by the VCS revision stamped into the binary, if any.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, resolveCommit(commit), runtime.Version()).Set(1)
}

func resolveCommit(commit string) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "dev"
}
