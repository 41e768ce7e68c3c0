package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/restock/internal/database"
	"github.com/aristath/restock/internal/scheduler"
	"github.com/aristath/restock/internal/version"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobRunner executes registered jobs on demand
type JobRunner interface {
	RunNow(job scheduler.Job) error
	Jobs() []string
}

// SystemStats is the payload of GET /api/system/stats
type SystemStats struct {
	Version       string  `json:"version"`
	Commit        string  `json:"commit"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskFreeBytes uint64  `json:"disk_free_bytes"`
	DiskPercent   float64 `json:"disk_percent"`
	DatabaseBytes int64   `json:"database_bytes"`
	ScheduledJobs int     `json:"scheduled_jobs"`
	AvailableJobs int     `json:"available_jobs"`
}

// JobInfo describes one triggerable job
type JobInfo struct {
	Name      string `json:"name"`
	Scheduled bool   `json:"scheduled"`
}

// SystemHandlers serves process and host status
type SystemHandlers struct {
	db        *database.DB
	dataDir   string
	runner    JobRunner
	jobs      map[string]scheduler.Job
	log       zerolog.Logger
	startedAt time.Time

	cpuPercent func() (float64, error)
	memPercent func() (float64, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
}

// NewSystemHandlers creates system handlers. runner may be nil when no scheduler is running.
func NewSystemHandlers(db *database.DB, dataDir string, runner JobRunner, jobs []scheduler.Job, log zerolog.Logger) *SystemHandlers {
	byName := make(map[string]scheduler.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name()] = j
	}
	h := &SystemHandlers{
		db:        db,
		dataDir:   dataDir,
		runner:    runner,
		jobs:      byName,
		log:       log.With().Str("handler", "system").Logger(),
		startedAt: time.Now(),
		diskUsage: disk.Usage,
	}
	h.cpuPercent = func() (float64, error) {
		// 100ms keeps the endpoint responsive
		p, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(p) == 0 {
			return 0, err
		}
		return p[0], nil
	}
	h.memPercent = func() (float64, error) {
		v, err := mem.VirtualMemory()
		if err != nil {
			return 0, err
		}
		return v.UsedPercent, nil
	}
	return h
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats := SystemStats{
		Version:       version.Version,
		Commit:        version.Commit,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		AvailableJobs: len(h.jobs),
	}

	if p, err := h.cpuPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else {
		stats.CPUPercent = p
	}
	if p, err := h.memPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		stats.MemoryPercent = p
	}
	if h.dataDir != "" {
		if u, err := h.diskUsage(h.dataDir); err != nil {
			h.log.Warn().Err(err).Str("dir", h.dataDir).Msg("Failed to get disk usage")
		} else {
			stats.DiskFreeBytes = u.Free
			stats.DiskPercent = u.UsedPercent
		}
	}
	if h.db != nil {
		stats.DatabaseBytes = h.db.SizeBytes()
	}
	if h.runner != nil {
		stats.ScheduledJobs = len(h.runner.Jobs())
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// HandleListJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	scheduled := make(map[string]bool)
	if h.runner != nil {
		for _, name := range h.runner.Jobs() {
			scheduled[name] = true
		}
	}

	jobs := make([]JobInfo, 0, len(h.jobs))
	for name := range h.jobs {
		jobs = append(jobs, JobInfo{Name: name, Scheduled: scheduled[name]})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// HandleTriggerJob handles POST /api/system/jobs/{name}
// The job runs in the background; progress is visible on the event stream.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request, name string) {
	job, ok := h.jobs[name]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown job: "+name)
		return
	}
	if h.runner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")
	go func() {
		if err := h.runner.RunNow(job); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job":    name,
	})
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
