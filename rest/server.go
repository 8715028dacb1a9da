package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/service"
)

type Server struct {
	http.Server
	Port             int
	executionService *service.WorkflowExecutionService
}

func NewServer(httpPort int, executionService *service.WorkflowExecutionService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		executionService: executionService,
		Port:             httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/execution", s.HandleStartExecution).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/pause", s.HandlePause).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/resume", s.HandleResume).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/step/{order}/trigger", s.HandleTriggerStep).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/step/{order}/approve", s.HandleApprove).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/step/{order}/clarification", s.HandleRaiseClarification).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/clarification/{clarificationId}/resolve", s.HandleResolveClarification).Methods(http.MethodPost)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info(fmt.Sprintf("starting http server on port %d", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes so callers can correct
// user errors without treating them as server faults.
func statusFor(err error) int {
	var notFound persistence.NotFoundError
	var unknownType model.UnknownWorkflowTypeError
	var duplicate model.DuplicateExecutionError
	var notEligible model.NotEligibleApproverError
	var alreadyVoted model.AlreadyVotedError
	var wrongState model.StepNotAwaitingApprovalError
	var notPending model.ClarificationNotPendingError
	switch {
	case errors.As(err, &notFound), errors.As(err, &unknownType):
		return http.StatusNotFound
	case errors.As(err, &duplicate), errors.As(err, &alreadyVoted), errors.As(err, &wrongState), errors.As(err, &notPending):
		return http.StatusConflict
	case errors.As(err, &notEligible):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
