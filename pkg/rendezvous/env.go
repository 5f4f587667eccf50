package rendezvous

import "strconv"

// Environment keys handed to every worker before a synchronized training
// attempt. The names follow the tracker protocol of the training engines we
// interoperate with.
const (
	EnvWorldSize   = "DMLC_NUM_WORKER"
	EnvTrackerHost = "DMLC_TRACKER_URI"
	EnvTrackerPort = "DMLC_TRACKER_PORT"
	EnvTaskID      = "DMLC_TASK_ID"
)

// TaskNamespace prefixes every per-worker task identifier.
const TaskNamespace = "[boostherd]"

// Environment is the coordination key/value set computed once per attempt
// and passed by value to every worker.
type Environment map[string]string

// WithTaskID returns a copy of the environment carrying a per-worker task
// identifier. The shared map is never mutated.
func (e Environment) WithTaskID(taskID string) Environment {
	out := make(Environment, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out[EnvTaskID] = taskID
	return out
}

// TrackerAddr returns the tracker's dialable host:port.
func (e Environment) TrackerAddr() string {
	return e[EnvTrackerHost] + ":" + e[EnvTrackerPort]
}

// WorldSize returns the worker count, or 0 if the key is absent or invalid.
func (e Environment) WorldSize() int {
	n, err := strconv.Atoi(e[EnvWorldSize])
	if err != nil {
		return 0
	}
	return n
}
