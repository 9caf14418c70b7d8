package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"stockpit/internal/collect"
	"stockpit/internal/domain"
	"stockpit/internal/task"
)

// launchResponse is the body returned by every job-launch endpoint.
type launchResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message,omitempty"`
}

// cancelResponse mirrors the cancel endpoint contract: success=false still
// carries a human-readable message.
type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type retryResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message"`
}

func (s *Server) handleCollectHistory(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = collect.ModeFull
	}
	if mode != collect.ModeFull && mode != collect.ModeIncremental {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
		return
	}
	days := queryInt(r, "days", s.defaultDays)
	workers := queryInt(r, "workers", 0)

	started, err := s.registry.Start(
		domain.TaskHistoryCollection,
		fmt.Sprintf("%s collection starting", mode),
		s.collector.Job(mode, days, workers),
	)
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	writeJSON(w, launchResponse{TaskID: started.ID, Message: started.Message})
}

func (s *Server) handleSignalRefresh(w http.ResponseWriter, r *http.Request) {
	s.launchAnalysis(w, r, domain.TaskSignalAnalysis, "trendline")
}

func (s *Server) handleMARefresh(w http.ResponseWriter, r *http.Request) {
	s.launchAnalysis(w, r, domain.TaskMASignalAnalysis, "sma-cross")
}

func (s *Server) launchAnalysis(w http.ResponseWriter, r *http.Request, taskType domain.TaskType, strategyName string) {
	strat, ok := s.strategies.Get(strategyName)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("strategy %q not registered", strategyName))
		return
	}
	days := queryInt(r, "days", s.defaultDays)
	forceFull := queryBool(r, "force_full")
	// mode=full recomputes every stock, same as force_full; incremental only
	// reanalyzes stocks whose signals are stale.
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", collect.ModeIncremental:
	case collect.ModeFull:
		forceFull = true
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
		return
	}

	started, err := s.registry.Start(
		taskType,
		fmt.Sprintf("%s analysis starting", strategyName),
		s.analyzer.Job(strat, days, forceFull),
	)
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	writeJSON(w, launchResponse{TaskID: started.ID})
}

// writeLaunchError maps a Start failure to the right HTTP status: a job of
// the same type still running is a 409 carrying that task's id, so clients
// can adopt it instead of retrying.
func (s *Server) writeLaunchError(w http.ResponseWriter, err error) {
	var running *task.RunningError
	if errors.As(err, &running) {
		writeJSONStatus(w, http.StatusConflict, launchResponse{
			TaskID:  running.TaskID,
			Message: "a task of this type is already running",
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	snap := s.lookupTask(r, id)
	if snap == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleLatestTask(w http.ResponseWriter, r *http.Request) {
	taskType := domain.TaskType(r.PathValue("task_type"))
	switch taskType {
	case domain.TaskHistoryCollection, domain.TaskSignalAnalysis, domain.TaskMASignalAnalysis:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown task type %q", taskType))
		return
	}

	if snap, ok := s.registry.Latest(taskType); ok {
		writeJSON(w, snap)
		return
	}
	// Fall back to persisted history from before the last restart.
	if s.taskStore != nil {
		snap, err := s.taskStore.LatestTask(r.Context(), taskType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snap != nil {
			writeJSON(w, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no task of this type")
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	ok, msg := s.registry.Cancel(id)
	if !ok && msg == "task not found" && s.taskStore != nil {
		// The registry forgets tasks across restarts; the store may still
		// know this one, which is by then necessarily terminal.
		if snap, err := s.taskStore.GetTask(r.Context(), id); err == nil && snap != nil {
			msg = fmt.Sprintf("task already %s", snap.Status)
		}
	}
	writeJSON(w, cancelResponse{Success: ok, Message: msg})
}

// handleTaskAction fans out GET subresources of a task. Only logs exists.
func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "logs":
		s.handleTaskLogs(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	if s.lookupTask(r, id) == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	logs := []domain.TaskLogEntry{}
	if s.taskStore != nil {
		entries, err := s.taskStore.ListTaskLogs(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries != nil {
			logs = entries
		}
	}
	writeJSON(w, logs)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	snap := s.lookupTask(r, id)
	if snap == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if snap.Type != domain.TaskHistoryCollection {
		writeError(w, http.StatusBadRequest, "retry-failed only applies to history collection tasks")
		return
	}
	if !snap.Status.Terminal() {
		writeJSONStatus(w, http.StatusConflict, retryResponse{
			Message: "task is still running",
		})
		return
	}

	codes := s.failedCodes(r, id)
	if len(codes) == 0 {
		writeJSON(w, retryResponse{Message: "no failed items to retry"})
		return
	}

	days := queryInt(r, "days", s.defaultDays)
	started, err := s.registry.Start(
		domain.TaskHistoryCollection,
		fmt.Sprintf("retrying %d failed stocks", len(codes)),
		s.collector.RetryJob(codes, days),
	)
	if err != nil {
		var running *task.RunningError
		if errors.As(err, &running) {
			writeJSONStatus(w, http.StatusConflict, retryResponse{
				TaskID:  running.TaskID,
				Message: "a collection task is already running",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, retryResponse{
		Success: true,
		TaskID:  started.ID,
		Message: started.Message,
	})
}

// lookupTask checks the in-memory registry first, then persisted history.
func (s *Server) lookupTask(r *http.Request, id string) *domain.Task {
	if snap, ok := s.registry.Snapshot(id); ok {
		return snap
	}
	if s.taskStore == nil {
		return nil
	}
	snap, err := s.taskStore.GetTask(r.Context(), id)
	if err != nil {
		s.log.Warn("loading task from store", "task_id", id, "error", err)
		return nil
	}
	return snap
}

// failedCodes collects the distinct stock codes that failed in a task.
func (s *Server) failedCodes(r *http.Request, id string) []string {
	if s.taskStore == nil {
		return nil
	}
	entries, err := s.taskStore.ListTaskLogs(r.Context(), id)
	if err != nil {
		s.log.Warn("loading task logs", "task_id", id, "error", err)
		return nil
	}
	seen := make(map[string]bool)
	var codes []string
	for _, e := range entries {
		if !e.OK && !seen[e.Code] {
			seen[e.Code] = true
			codes = append(codes, e.Code)
		}
	}
	return codes
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "true" || v == "1"
}
