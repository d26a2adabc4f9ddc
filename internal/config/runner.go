package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"trip-tracker/internal/sandbox"
)

const (
	KindLocation  = "location"
	KindHeartbeat = "heartbeat"
)

// RunnerSpec declares one runner a host should serve.
type RunnerSpec struct {
	Label    string   `yaml:"label" validate:"required"`
	Kind     string   `yaml:"kind" validate:"omitempty,oneof=location heartbeat"`
	Events   []string `yaml:"events" validate:"omitempty,dive,oneof=locationUpdate heartbeat getStatus status"`
	BudgetMS int      `yaml:"budgetMS" validate:"gte=0"`
	// IntervalMS is the beat period of a heartbeat runner.
	IntervalMS int `yaml:"intervalMS" validate:"gte=0"`
	// AutoStart creates the instance with the host and, for heartbeat
	// runners, starts beating without waiting for a dispatch.
	AutoStart bool `yaml:"autoStart"`
}

func (r RunnerSpec) Budget() time.Duration {
	return time.Duration(r.BudgetMS) * time.Millisecond
}

func (r RunnerSpec) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func (r RunnerSpec) newRunner() *sandbox.Runner {
	if r.Kind != KindHeartbeat {
		return sandbox.NewLocationRunner(r.Label, r.Budget(), r.Events...)
	}
	runner := sandbox.NewHeartbeatRunner(r.Label, r.Budget(), r.Events...)
	if r.AutoStart {
		runner.StartHeartbeat(r.Interval())
	}
	return runner
}

// Manifest is the runner host configuration, usually runners.yml.
type Manifest struct {
	// RecycleAfter replaces a runner instance after that many invocations; 0 never does.
	RecycleAfter int          `yaml:"recycleAfter" validate:"gte=0"`
	Runners      []RunnerSpec `yaml:"runners" validate:"required,min=1,dive"`
}

const (
	defaultBudgetMS = 30000
	// HeartbeatLabel is the label of the default background heartbeat runner.
	HeartbeatLabel = "com.example.background.task"
)

var defaultIntervalMS = int(sandbox.DefaultHeartbeatInterval / time.Millisecond)

// DefaultManifest serves a location runner with every event under label,
// plus an auto-started heartbeat runner under HeartbeatLabel.
func DefaultManifest(label string) Manifest {
	m := Manifest{Runners: []RunnerSpec{{Label: label, Kind: KindLocation, BudgetMS: defaultBudgetMS}}}
	if label != HeartbeatLabel {
		m.Runners = append(m.Runners, RunnerSpec{
			Label:      HeartbeatLabel,
			Kind:       KindHeartbeat,
			BudgetMS:   defaultBudgetMS,
			IntervalMS: defaultIntervalMS,
			AutoStart:  true,
		})
	}
	return m
}

// LoadManifest reads and validates a manifest. An empty path yields
// DefaultManifest(label).
func LoadManifest(path, label string) (Manifest, error) {
	if path == "" {
		return DefaultManifest(label), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read runner manifest: %w", err)
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode runner manifest: %w", err)
	}
	if err := validator.New().Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("invalid runner manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Runners))
	for i := range m.Runners {
		r := &m.Runners[i]
		if seen[r.Label] {
			return Manifest{}, fmt.Errorf("invalid runner manifest: duplicate label %q", r.Label)
		}
		seen[r.Label] = true
		if r.Kind == "" {
			r.Kind = KindLocation
		}
		if r.BudgetMS == 0 {
			r.BudgetMS = defaultBudgetMS
		}
		if r.Kind == KindHeartbeat && r.IntervalMS == 0 {
			r.IntervalMS = defaultIntervalMS
		}
	}
	return m, nil
}

// Labels lists the declared runner labels in manifest order.
func (m Manifest) Labels() []string {
	out := make([]string, 0, len(m.Runners))
	for _, r := range m.Runners {
		out = append(out, r.Label)
	}
	return out
}

// NewHost builds a runner host serving every runner in the manifest.
// AutoStart runners are created immediately. Callers must Close the host.
func (m Manifest) NewHost() *sandbox.Host {
	host := sandbox.NewHost(m.RecycleAfter)
	for _, r := range m.Runners {
		host.Register(r.Label, r.newRunner)
	}
	for _, r := range m.Runners {
		if r.AutoStart {
			// registered just above
			_ = host.Preload(r.Label)
		}
	}
	return host
}
