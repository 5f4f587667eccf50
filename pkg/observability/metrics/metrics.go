package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	workersSpawned  atomic.Int64
	workerFailures  atomic.Int64
	jobRestarts     atomic.Int64
	jobsCompleted   atomic.Int64
	jobsFailed      atomic.Int64
	checkpointSaves atomic.Int64
	attemptsStarted atomic.Int64
)

func WorkersSpawned(n int) {
	workersSpawned.Add(int64(n))
}

func WorkerFailure() {
	workerFailures.Add(1)
}

func JobRestart() {
	jobRestarts.Add(1)
}

func JobCompleted() {
	jobsCompleted.Add(1)
}

func JobFailed() {
	jobsFailed.Add(1)
}

func CheckpointSaved() {
	checkpointSaves.Add(1)
}

func AttemptStarted() {
	attemptsStarted.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP boostherd_workers_spawned_total Workers created across all training attempts.\n")
	fmt.Fprintf(w, "# TYPE boostherd_workers_spawned_total counter\n")
	fmt.Fprintf(w, "boostherd_workers_spawned_total %d\n", workersSpawned.Load())

	fmt.Fprintf(w, "# HELP boostherd_worker_failures_total Worker failures detected by the coordinator.\n")
	fmt.Fprintf(w, "# TYPE boostherd_worker_failures_total counter\n")
	fmt.Fprintf(w, "boostherd_worker_failures_total %d\n", workerFailures.Load())

	fmt.Fprintf(w, "# HELP boostherd_job_restarts_total Full job-level restarts after a recoverable worker failure.\n")
	fmt.Fprintf(w, "# TYPE boostherd_job_restarts_total counter\n")
	fmt.Fprintf(w, "boostherd_job_restarts_total %d\n", jobRestarts.Load())

	fmt.Fprintf(w, "# HELP boostherd_attempts_started_total Training attempts started, including retries.\n")
	fmt.Fprintf(w, "# TYPE boostherd_attempts_started_total counter\n")
	fmt.Fprintf(w, "boostherd_attempts_started_total %d\n", attemptsStarted.Load())

	fmt.Fprintf(w, "# HELP boostherd_jobs_completed_total Jobs that returned a model.\n")
	fmt.Fprintf(w, "# TYPE boostherd_jobs_completed_total counter\n")
	fmt.Fprintf(w, "boostherd_jobs_completed_total %d\n", jobsCompleted.Load())

	fmt.Fprintf(w, "# HELP boostherd_jobs_failed_total Jobs that failed fatally.\n")
	fmt.Fprintf(w, "# TYPE boostherd_jobs_failed_total counter\n")
	fmt.Fprintf(w, "boostherd_jobs_failed_total %d\n", jobsFailed.Load())

	fmt.Fprintf(w, "# HELP boostherd_checkpoint_saves_total Checkpoint files written by workers.\n")
	fmt.Fprintf(w, "# TYPE boostherd_checkpoint_saves_total counter\n")
	fmt.Fprintf(w, "boostherd_checkpoint_saves_total %d\n", checkpointSaves.Load())
}
