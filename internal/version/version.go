package version

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags при сборке бинарников.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает данные сборки. Без ldflags коммит и дата берутся из
// vcs-настроек debug.BuildInfo, если go build их записал.
func Current() Build {
	return resolve(debug.ReadBuildInfo)
}

func resolve(read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: version, Commit: commit, Date: date}
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && b.Commit == "unknown":
			b.Commit = setting.Value
		case setting.Key == "vcs.time" && b.Date == "unknown":
			b.Date = setting.Value
		}
	}
	return b
}

// GetVersion отдаёт версию для /healthz.
func GetVersion() string { return version }

// Fields: поля сборки для стартового лога бинарников.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields возвращает Current().Fields().
func Fields() log.Fields { return Current().Fields() }

// RegisterMetric публикует oms_build_info{version,commit}=1.
func RegisterMetric(registerer prometheus.Registerer) error {
	b := Current()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "oms_build_info",
		Help:        "Build information of the running ledger binary",
		ConstLabels: prometheus.Labels{"version": b.Version, "commit": b.Commit},
	})
	gauge.Set(1)
	if err := registerer.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
