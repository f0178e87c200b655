package models

import "time"

// HeartbeatTimeout is how long a worker may stay silent before the sweeper
// removes it and resets its running tools.
const HeartbeatTimeout = 30 * time.Second

// MaxToolsPerWorker caps concurrent tools a single worker runs for one
// engagement.
const MaxToolsPerWorker = 5

// Worker is a remote executor with a declared parser-plugin catalog.
type Worker struct {
	Name             string        `json:"name"` // host-qualified UUID
	SupportedPlugins []string      `json:"supported_plugins"`
	Pentest          string        `json:"pentest,omitempty"` // bound engagement, at most one
	LastHeartbeat    time.Time     `json:"last_heartbeat"`
	RunningTools     []RunningTool `json:"running_tools"`
}

// RunningTool identifies one tool currently executing on a worker.
type RunningTool struct {
	Pentest string `json:"pentest"`
	ToolID  string `json:"tool_iid"`
}

// Supports reports whether the worker declared support for the named
// parser plugin.
func (w *Worker) Supports(pluginName string) bool {
	for _, p := range w.SupportedPlugins {
		if p == pluginName {
			return true
		}
	}
	return false
}

// RunningCount returns the number of tools the worker runs for the given
// engagement.
func (w *Worker) RunningCount(pentest string) int {
	n := 0
	for _, rt := range w.RunningTools {
		if rt.Pentest == pentest {
			n++
		}
	}
	return n
}

// Alive reports whether the worker heartbeat is within the timeout at now.
func (w *Worker) Alive(now time.Time) bool {
	return now.Sub(w.LastHeartbeat) <= HeartbeatTimeout
}
