package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mcclellann/installments/pkg/amortization"
	"github.com/mcclellann/installments/pkg/idempotency"
	"github.com/mcclellann/installments/pkg/ledger"
	"github.com/mcclellann/installments/pkg/logging"
	"github.com/mcclellann/installments/pkg/metrics"
	"github.com/mcclellann/installments/pkg/models"
	"github.com/mcclellann/installments/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger      *ledger.Ledger
	storage     store.Storage
	metrics     *metrics.Metrics
	idempotency idempotency.Store
	idemTTL     time.Duration
	logger      *zap.Logger
}

func NewServer(l *ledger.Ledger, s store.Storage, m *metrics.Metrics, idem idempotency.Store, idemTTL time.Duration, logger *zap.Logger) *Server {
	return &Server{
		ledger:      l,
		storage:     s,
		metrics:     m,
		idempotency: idem,
		idemTTL:     idemTTL,
		logger:      logger,
	}
}

// Close releases the underlying storage.
func (s *Server) Close() error {
	return s.storage.Close()
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.Use(logging.Middleware(s.logger.Named("http")))
	router.Use(s.metrics.Middleware)

	idem := idempotency.Middleware(s.idempotency, s.idemTTL, s.logger)

	router.HandleFunc("/installments", s.listPlansHandler).Methods(http.MethodGet)
	router.Handle("/installments", idem(http.HandlerFunc(s.createPlanHandler))).Methods(http.MethodPost)
	router.HandleFunc("/installments/{id}", s.getPlanHandler).Methods(http.MethodGet)
	router.HandleFunc("/installments/{id}", s.updatePlanHandler).Methods(http.MethodPut)
	router.HandleFunc("/installments/{id}", s.deletePlanHandler).Methods(http.MethodDelete)
	router.HandleFunc("/installments/{id}/payments/{paymentID}/complete", s.completePaymentHandler).Methods(http.MethodPost)
	router.HandleFunc("/installments/{id}/payments/{paymentID}/cancel", s.cancelPaymentHandler).Methods(http.MethodPost)
	router.HandleFunc("/payments", s.paymentsHandler).Methods(http.MethodGet)
	router.HandleFunc("/summary", s.summaryHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return router
}

func (s *Server) createPlanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreatePlanInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	plan, err := s.ledger.CreatePlan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	plan, err := s.ledger.GetPlan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request) {
	plans, err := s.ledger.ListPlans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) updatePlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	var req ledger.UpdatePlanInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	plan, err := s.ledger.UpdatePlan(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) deletePlanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := s.ledger.DeletePlan(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completePaymentHandler(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	paymentID, ok := s.pathID(w, r, "paymentID")
	if !ok {
		return
	}

	// The body is optional.
	var req struct {
		PaidDate *models.Date `json:"paid_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	payment, err := s.ledger.CompletePayment(r.Context(), planID, paymentID, req.PaidDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) cancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	paymentID, ok := s.pathID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := s.ledger.CancelPayment(r.Context(), planID, paymentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	view, err := ledger.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	month, ok := s.queryMonth(w, r)
	if !ok {
		return
	}

	plans, err := s.ledger.Payments(r.Context(), view, s.ledger.Now(), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []models.InstallmentPlan{}
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	month, ok := s.queryMonth(w, r)
	if !ok {
		return
	}

	summary, err := s.ledger.Summary(r.Context(), s.ledger.Now(), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		s.badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// queryMonth parses the optional month query parameter. The zero Month
// means "current month".
func (s *Server) queryMonth(w http.ResponseWriter, r *http.Request) (models.Month, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return models.Month{}, true
	}
	month, err := models.ParseMonth(raw)
	if err != nil {
		s.badRequest(w, err.Error())
		return models.Month{}, false
	}
	return month, true
}

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []ledger.FieldError `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrPlanNotFound), errors.Is(err, store.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnknownView):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrSumMismatch),
		errors.Is(err, ledger.ErrCountMismatch),
		errors.Is(err, amortization.ErrInvalidMonthCount),
		errors.Is(err, amortization.ErrNonPositiveAmount),
		errors.Is(err, amortization.ErrPaidNotPrefix):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Error = "internal server error"
	}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
