package runtime

import "time"

// StopGracePeriod is how long a sandbox gets to exit before it is killed.
const StopGracePeriod = 5 * time.Second

// CodeMountPath is where the bot's code directory appears inside a sandbox.
const CodeMountPath = "/bot"

// SandboxSpec describes one sandbox to create.
type SandboxSpec struct {
	// BotID is the registry's internal id.
	BotID string
	// CodeDir is the absolute host directory mounted read-only at CodeMountPath.
	CodeDir string
	// EntryFile is the file inside CodeDir the sandbox executes.
	EntryFile string
	// MemoryMB is the hard memory ceiling.
	MemoryMB int
	// Labels are extra labels attached to the sandbox.
	Labels map[string]string
}

// Handle identifies a sandbox.
type Handle struct {
	BotID       string
	ContainerID string
	Name        string
}

// State mirrors docker container states.
type State string

const (
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateCreated  State = "created"
	StatePaused   State = "paused"
	StateRemoving State = "removing"
	StateUnknown  State = "unknown"
)

// SandboxStatus holds live sandbox status information.
type SandboxStatus struct {
	ContainerID string
	State       State
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitCode    int
	Error       string
}

// RawStats are the cumulative counters of one snapshot together with the
// runtime's own previous sample.
type RawStats struct {
	CPUTotal     uint64
	PreCPUTotal  uint64
	SystemCPU    uint64
	PreSystemCPU uint64
	OnlineCPUs   uint32
	MemoryUsage  uint64
	MemoryLimit  uint64
}

// ContainerNameFor returns the sandbox name for a bot id.
func ContainerNameFor(botID string) string {
	return "botworker-bot-" + botID
}
