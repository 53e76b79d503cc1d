package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/storage"
	"github.com/gmb-sync/internal/types"
)

// handleSync handles POST /api/accounts/{accountId}/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]

	includeQuestions := s.config.IncludeQuestions
	if v := r.URL.Query().Get("includeQuestions"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("includeQuestions", "must be a boolean"))
			return
		}
		includeQuestions = b
	}

	result, err := s.deps.Sync.PerformTransactionalSync(r.Context(), accountID, includeQuestions)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// DiscoveryResponse is returned when a discovery job is queued
type DiscoveryResponse struct {
	JobID     string `json:"jobId"`
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
}

// handleDiscovery handles POST /api/accounts/{accountId}/discovery
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	ctx := r.Context()

	account, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if stderrors.Is(err, storage.ErrAccountNotFound) {
			respondServiceError(w, r, apperrors.NewNotFoundError("account", accountID))
			return
		}
		respondServiceError(w, r, apperrors.NewDatabaseError("load account", err))
		return
	}

	open, err := s.deps.Jobs.HasActiveJob(ctx, accountID, types.JobDiscoverLocations)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("check open jobs", err))
		return
	}
	if open {
		respondServiceError(w, r, apperrors.NewConflictError("a discovery job is already queued for account "+accountID))
		return
	}

	jobID, err := s.deps.Jobs.Enqueue(ctx, account.ID, account.UserID, types.JobDiscoverLocations, s.config.DiscoveryPriority, models.JobMetadata{
		JobType:         types.JobDiscoverLocations,
		AccountID:       account.ID,
		UserID:          account.UserID,
		GoogleAccountID: account.GoogleAccountID,
	})
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("enqueue discovery", err))
		return
	}

	respondJSON(w, http.StatusAccepted, DiscoveryResponse{
		JobID:     jobID,
		AccountID: account.ID,
		Status:    string(types.JobStatusPending),
	})
}

// JobView is a job with the children it fanned out
type JobView struct {
	*models.SyncJob
	Children []*models.SyncJob `json:"children"`
}

// handleGetJob handles GET /api/jobs/{jobId}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := s.deps.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if stderrors.Is(err, storage.ErrJobNotFound) {
			respondServiceError(w, r, apperrors.NewNotFoundError("job", jobID))
			return
		}
		respondServiceError(w, r, apperrors.NewDatabaseError("load job", err))
		return
	}

	children, err := s.deps.Jobs.ListByParent(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list child jobs", err))
		return
	}
	if children == nil {
		children = []*models.SyncJob{}
	}

	respondJSON(w, http.StatusOK, JobView{SyncJob: job, Children: children})
}

// handleGetSyncEvents handles GET /api/sync/{syncId}/events
func (s *Server) handleGetSyncEvents(w http.ResponseWriter, r *http.Request) {
	syncID := mux.Vars(r)["syncId"]

	events, err := s.deps.Events.ListBySyncID(r.Context(), syncID)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list sync events", err))
		return
	}
	if len(events) == 0 {
		respondServiceError(w, r, apperrors.NewNotFoundError("sync", syncID))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"syncId": syncID,
		"events": events,
	})
}
