/*
handlers.go - HTTP API handlers for the benefit wallet

PURPOSE:
  Exposes the wallet ledger, plan configuration and the booking lifecycles
  over REST. Handlers parse and validate the request, delegate to the
  domain, and map domain errors to HTTP status codes.

ENDPOINTS:
  Plans / members / assignments:
    POST   /api/plans                          Publish a plan version (JSON)
    GET    /api/plans/{id}?version=n           Get a plan (latest by default)
    POST   /api/members                        Register memberId -> userId
    POST   /api/assignments                    Assign a plan, initialize the wallet
    DELETE /api/assignments/{id}               Remove assignment and its wallets

  Users:
    GET    /api/users/{id}/assignments
    GET    /api/users/{id}/wallet              Balance holder (floater master for dependents)
    GET    /api/users/{id}/wallet/transactions
    GET    /api/users/{id}/wallet/check?amount=&category=
    POST   /api/users/{id}/wallet/topup        Admin
    POST   /api/users/{id}/wallet/debit        Admin adjustment
    POST   /api/users/{id}/wallet/credit       Admin adjustment
    GET    /api/users/{id}/summaries           Payment breakdown per booking

  Bookings (one set per service type, see GET /api/services):
    POST   /api/bookings/{type}/quote
    POST   /api/bookings/{type}
    GET    /api/bookings/{type}?userId=
    GET    /api/bookings/{type}/{id}
    POST   /api/bookings/{type}/{id}/confirm|cancel|no-show|complete|reschedule

  Payments:
    GET    /api/payments/{id}
    POST   /api/payments/{id}/pay              Member settles the payment

ACTORS:
  X-Actor-Role (MEMBER, ADMIN, SYSTEM; default MEMBER) and X-Actor-ID
  identify who performs a transition. Members are held to the
  cancellation cutoff; admins are not.

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 402: Insufficient balance (body carries available and required)
  - 404: Resource not found
  - 409: Conflict, slot taken, invalid state transition
  - 502: External dependency failed
  - 500: Internal errors

SECURITY NOTE:
  Actor headers are trusted. Authentication sits in front of this service.

SEE ALSO:
  - bookings.go: type-erased lifecycle bindings
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/payments"
	"github.com/carepay/benefit-wallet/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// PlanInvalidator is implemented by plan caches.
type PlanInvalidator interface {
	Invalidate(ctx context.Context, policyID generic.PolicyID, version int)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Ledger      *generic.WalletLedger
	Plans       generic.PlanConfigService
	Payments    *payments.Service
	PlanFactory *factory.PlanFactory
	Log         *zap.Logger

	// Optional.
	PlanCache   PlanInvalidator
	NoShowGrace time.Duration

	services map[generic.ServiceType]BookingService
	order    []generic.ServiceType

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the handler. Plans default to the store itself.
func NewHandler(store *sqlite.Store, ledger *generic.WalletLedger, pay *payments.Service, log *zap.Logger, services ...BookingService) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		Store:       store,
		Ledger:      ledger,
		Plans:       store,
		Payments:    pay,
		PlanFactory: factory.NewPlanFactory(),
		Log:         log,
		NoShowGrace: 2 * time.Hour,
		services:    make(map[generic.ServiceType]BookingService),
	}
	for _, s := range services {
		t := s.Info().Type
		h.services[t] = s
		h.order = append(h.order, t)
	}
	return h
}

// Services returns the bound booking services in registration order.
func (h *Handler) Services() []BookingService {
	out := make([]BookingService, 0, len(h.order))
	for _, t := range h.order {
		out = append(out, h.services[t])
	}
	return out
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListServices returns the bookable service types.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	out := make([]generic.ServiceInfo, 0, len(h.order))
	for _, s := range h.Services() {
		out = append(out, s.Info())
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// CreatePlan publishes a plan version from its JSON document.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	plan, err := h.PlanFactory.ParsePlanBytes(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Store.SavePlan(r.Context(), plan); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.PlanCache != nil {
		h.PlanCache.Invalidate(r.Context(), plan.PolicyID, plan.Version)
	}
	h.Log.Info("plan published",
		zap.String("policy_id", string(plan.PolicyID)),
		zap.Int("version", plan.Version))
	writeJSON(w, http.StatusCreated, h.planDTO(plan))
}

func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	var version *int
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid version", err)
			return
		}
		version = &n
	}
	plan, err := h.Plans.GetConfig(r.Context(), generic.PolicyID(chi.URLParam(r, "id")), version)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.planDTO(plan))
}

func (h *Handler) planDTO(plan *generic.PlanConfig) PlanDTO {
	return PlanDTO{
		PolicyID:        string(plan.PolicyID),
		Version:         plan.Version,
		Name:            plan.Name,
		TotalAllocation: plan.TotalAllocation(),
		Config:          h.PlanFactory.ToJSON(plan),
	}
}

// =============================================================================
// MEMBER / ASSIGNMENT HANDLERS
// =============================================================================

func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "memberId and userId are required", nil)
		return
	}
	if err := h.Store.SaveMember(r.Context(), generic.MemberID(req.MemberID), generic.UserID(req.UserID), req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateAssignment stores the assignment and initializes its wallet from
// the assigned plan version.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := req.toAssignment()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	wallet, err := h.assign(r.Context(), a, actorFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AssignmentDTO{Assignment: a, Wallet: wallet})
}

func (req CreateAssignmentRequest) toAssignment() (generic.Assignment, error) {
	from, err := time.Parse("2006-01-02", req.EffectiveFrom)
	if err != nil {
		return generic.Assignment{}, generic.NewValidationError("effectiveFrom", "use YYYY-MM-DD")
	}
	to := from.AddDate(1, 0, 0)
	if req.EffectiveTo != "" {
		if to, err = time.Parse("2006-01-02", req.EffectiveTo); err != nil {
			return generic.Assignment{}, generic.NewValidationError("effectiveTo", "use YYYY-MM-DD")
		}
	}
	rel := generic.Relationship(strings.ToUpper(req.Relationship))
	if rel == "" {
		rel = generic.RelationshipSelf
	}
	a := generic.Assignment{
		ID:            generic.AssignmentID(req.ID),
		UserID:        generic.UserID(req.UserID),
		PolicyID:      generic.PolicyID(req.PolicyID),
		PlanVersion:   req.PlanVersion,
		Relationship:  rel,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
	if req.PrimaryMemberID != nil && *req.PrimaryMemberID != "" {
		m := generic.MemberID(*req.PrimaryMemberID)
		a.PrimaryMemberID = &m
	}
	return a, nil
}

// assign is shared by the assignment endpoint and the scenario loaders.
func (h *Handler) assign(ctx context.Context, a generic.Assignment, by generic.Actor) (*generic.Wallet, error) {
	plan, err := h.Plans.GetConfig(ctx, a.PolicyID, a.PlanVersion)
	if err != nil {
		return nil, err
	}
	if err := h.Store.SaveAssignment(ctx, a); err != nil {
		return nil, err
	}
	return h.Ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID:          a.UserID,
		AssignmentID:    a.ID,
		Plan:            plan,
		EffectiveFrom:   a.EffectiveFrom,
		EffectiveTo:     a.EffectiveTo,
		PrimaryMemberID: a.PrimaryMemberID,
		ProcessedBy:     by.String(),
	})
}

func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := generic.AssignmentID(chi.URLParam(r, "id"))
	n, err := h.Ledger.DeleteWalletByAssignment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Store.DeleteAssignment(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteWalletsDTO{AssignmentID: string(id), Deleted: n})
}

func (h *Handler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.GetUserAssignments(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Ledger.GetWallet(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.Transactions(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []generic.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) CheckBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	category := generic.CategoryCode(strings.ToUpper(q.Get("category")))
	check, err := h.Ledger.CheckSufficientBalance(r.Context(), userParam(r), amount, category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handler) TopupWallet(w http.ResponseWriter, r *http.Request) {
	req, by, ok := h.walletAmountRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.TopupWallet(r.Context(), generic.TopupRequest{
		UserID:       userParam(r),
		Amount:       req.Amount,
		CategoryCode: generic.CategoryCode(strings.ToUpper(req.CategoryCode)),
		ProcessedBy:  by.String(),
		Notes:        req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DebitWallet(w http.ResponseWriter, r *http.Request) {
	h.adjustWallet(w, r, h.Ledger.DebitWallet)
}

func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	h.adjustWallet(w, r, h.Ledger.CreditWallet)
}

func (h *Handler) adjustWallet(w http.ResponseWriter, r *http.Request, op func(context.Context, generic.LedgerRequest) (*generic.LedgerResult, error)) {
	req, by, ok := h.walletAmountRequest(w, r)
	if !ok {
		return
	}
	res, err := op(r.Context(), generic.LedgerRequest{
		UserID:       userParam(r),
		Amount:       req.Amount,
		CategoryCode: generic.CategoryCode(strings.ToUpper(req.CategoryCode)),
		BookingID:    generic.BookingID(req.BookingID),
		ServiceType:  generic.ServiceType(strings.ToUpper(req.ServiceType)),
		Notes:        req.Notes,
		ProcessedBy:  by.String(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// walletAmountRequest decodes the body and requires an admin or system
// actor. It writes the error response itself.
func (h *Handler) walletAmountRequest(w http.ResponseWriter, r *http.Request) (WalletAmountRequest, generic.Actor, bool) {
	var req WalletAmountRequest
	by := actorFrom(r)
	if by.Role == generic.ActorMember {
		writeError(w, http.StatusForbidden, "Wallet adjustments require an admin", nil)
		return req, by, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, by, false
	}
	return req, by, true
}

func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.Payments.ListTransactions(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []generic.TransactionSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// withService resolves {type} and runs fn with the bound service.
func (h *Handler) withService(fn func(w http.ResponseWriter, r *http.Request, s BookingService)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := generic.ParseServiceType(chi.URLParam(r, "type"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		s, ok := h.services[t]
		if !ok {
			writeError(w, http.StatusNotFound, "Service not available", nil)
			return
		}
		fn(w, r, s)
	}
}

func (h *Handler) QuoteBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	q, err := s.Quote(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	b, err := s.Create(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	b, err := s.Get(r.Context(), bookingParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request, s BookingService) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}
	list, err := s.ListByUser(r.Context(), generic.UserID(userID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	respond(w)(s.Confirm(r.Context(), bookingParam(r), actorFrom(r)))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	respond(w)(s.Cancel(r.Context(), bookingParam(r), actorFrom(r), req.Reason))
}

func (h *Handler) NoShowBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	respond(w)(s.MarkNoShow(r.Context(), bookingParam(r), actorFrom(r)))
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	respond(w)(s.Complete(r.Context(), bookingParam(r), actorFrom(r)))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request, s BookingService) {
	var req generic.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	respond(w)(s.Reschedule(r.Context(), bookingParam(r), actorFrom(r), req))
}

// SweepNoShows runs the no-show sweep for every service now.
func (h *Handler) SweepNoShows(w http.ResponseWriter, r *http.Request) {
	out := make([]SweepDTO, 0, len(h.order))
	for _, s := range h.Services() {
		n, err := s.MarkOverdueNoShows(r.Context(), h.NoShowGrace)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out = append(out, SweepDTO{ServiceType: string(s.Info().Type), Marked: n})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.GetPayment(r.Context(), generic.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PayPayment marks a payment paid. The booking side is settled through the
// payment listeners before the response is written.
func (h *Handler) PayPayment(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	p, err := h.Payments.MarkPaid(r.Context(), generic.PaymentID(chi.URLParam(r, "id")), req.Method)
	if err != nil && p == nil {
		writeDomainError(w, err)
		return
	}
	if err != nil {
		h.Log.Error("payment settled but booking update failed",
			zap.String("payment_id", string(p.PaymentID)), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// HELPERS
// =============================================================================

func userParam(r *http.Request) generic.UserID {
	return generic.UserID(chi.URLParam(r, "userId"))
}

func bookingParam(r *http.Request) generic.BookingID {
	return generic.BookingID(chi.URLParam(r, "id"))
}

// actorFrom reads the acting identity from X-Actor-Role / X-Actor-ID.
func actorFrom(r *http.Request) generic.Actor {
	role := generic.ActorRole(strings.ToUpper(r.Header.Get("X-Actor-Role")))
	switch role {
	case generic.ActorAdmin, generic.ActorSystem:
	default:
		role = generic.ActorMember
	}
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		id = "anonymous"
	}
	return generic.Actor{ID: id, Role: role}
}

func respond(w http.ResponseWriter) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy to a status code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	writeJSON(w, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: http.StatusText(http.StatusInternalServerError), Details: err.Error()}

	var insufficient *generic.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Available = &insufficient.Available
		resp.Required = &insufficient.Required
	}
	var invalid *generic.ValidationError
	if errors.As(err, &invalid) {
		resp.Field = invalid.Field
	}

	var status int
	var payment *generic.PaymentProcessingError
	switch {
	case errors.As(err, &payment):
		status = http.StatusPaymentRequired
		if errors.Is(err, generic.ErrExternalDependency) {
			status = http.StatusBadGateway
		}
		resp.Error = "Payment processing failed"
	case errors.Is(err, generic.ErrValidation):
		status, resp.Error = http.StatusBadRequest, "Validation failed"
	case errors.Is(err, generic.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "Forbidden"
	case errors.Is(err, generic.ErrInsufficientBalance):
		status, resp.Error = http.StatusPaymentRequired, "Insufficient balance"
	case errors.Is(err, generic.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "Not found"
	case errors.Is(err, generic.ErrConflict),
		errors.Is(err, generic.ErrInvalidState),
		errors.Is(err, generic.ErrConcurrentModification):
		status, resp.Error = http.StatusConflict, "Conflict"
	case errors.Is(err, generic.ErrExternalDependency):
		status, resp.Error = http.StatusBadGateway, "Upstream service failed"
	default:
		status = http.StatusInternalServerError
	}
	return status, resp
}
