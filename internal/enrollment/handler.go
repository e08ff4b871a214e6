package enrollment

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"coursemarket/internal/apperr"
	"coursemarket/internal/catalog"
	"coursemarket/internal/httpx"
	"coursemarket/internal/membership"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service   Service
	presenter catalog.Presenter
}

func NewHandler(service Service, presenter catalog.Presenter) *Handler {
	return &Handler{service: service, presenter: presenter}
}

// Routes mounts the endpoints of an authenticated buyer.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/courses/{courseID}/buy", h.Buy)
	r.Get("/orders", h.ListOrders)
	r.Post("/orders/{enrollmentID}/cancel", h.Cancel)
	r.Delete("/orders/{enrollmentID}", h.Cancel)
}

// PublicRoutes mounts the payment callback and certificate check.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/payment-webhook", h.PaymentWebhook)
	r.Post("/check-sertificate", h.VerifyCertificate)
	r.Post("/certificates/verify", h.VerifyCertificate)
}

// AdminRoutes mounts operator endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/enrollments", h.ListEnrollments)
	r.Post("/enrollments/{enrollmentID}/certificate", h.IssueCertificate)
	r.Get("/enrollments/{enrollmentID}/history", h.History)
}

func principal(r *http.Request) (uuid.UUID, bool) {
	p, ok := membership.PrincipalFromContext(r.Context())
	return p.MemberID, ok
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(r)
	if !ok {
		httpx.Error(w, r, membership.ErrForbidden)
		return
	}
	courseID, err := httpx.UUIDParam(r, "courseID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	purchase, err := h.service.InitiatePurchase(r.Context(), userID, courseID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"pay_url": purchase.PaymentURL})
}

// OrderView is one row of the buyer's order list.
type OrderView struct {
	ID            uuid.UUID          `json:"id"`
	PaymentStatus Status             `json:"payment_status"`
	Course        catalog.CourseView `json:"course"`
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(r)
	if !ok {
		httpx.Error(w, r, membership.ErrForbidden)
		return
	}

	orders, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, OrderView{
			ID:            o.Enrollment.ID,
			PaymentStatus: o.Enrollment.Status,
			Course:        h.presenter.Course(o.Course),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(r)
	if !ok {
		httpx.Error(w, r, membership.ErrForbidden)
		return
	}
	id, err := httpx.UUIDParam(r, "enrollmentID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	outcome, err := h.service.Cancel(r.Context(), userID, id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome == CancelOutcomeAlreadyPaid {
		status = http.StatusTeapot
	}
	httpx.JSON(w, status, map[string]CancelOutcome{"result": outcome})
}

type callbackRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PaymentWebhook always acknowledges with 204 so that the provider never
// retries; malformed bodies and unknown orders are dropped.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("payment webhook: malformed body: %v", err)
	} else if err := h.service.ProcessCallback(r.Context(), req.OrderID, req.Status); err != nil {
		log.Printf("payment webhook: order %s: %v", req.OrderID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type verifyRequest struct {
	Code string `json:"code"`
	// Legacy clients send the code under this key.
	LegacyCode string `json:"sertikate_number"`
}

func (h *Handler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("verify certificate: malformed body: %v", err)
		req = verifyRequest{}
	}

	code := req.Code
	if code == "" {
		code = req.LegacyCode
	}
	httpx.JSON(w, http.StatusOK, map[string]VerifyResult{"result": h.service.VerifyCertificate(r.Context(), code)})
}

// EnrollmentView is the operator representation of an enrollment.
type EnrollmentView struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	CourseID          uuid.UUID `json:"course_id"`
	PaymentStatus     Status    `json:"payment_status"`
	PaymentLabel      string    `json:"payment_status_label"`
	OrderID           string    `json:"order_id"`
	CertificateNumber *string   `json:"certificate_number"`
	CreatedAt         time.Time `json:"created_at"`
}

func newEnrollmentView(e *Enrollment) EnrollmentView {
	return EnrollmentView{
		ID:                e.ID,
		UserID:            e.UserID,
		CourseID:          e.CourseID,
		PaymentStatus:     e.Status,
		PaymentLabel:      e.Status.Label(),
		OrderID:           e.OrderID,
		CertificateNumber: e.CertificateNumber,
		CreatedAt:         e.CreatedAt,
	}
}

func invalidQuery(param string) error {
	return apperr.Invalid(param, "Enter a valid value.")
}

func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	q := r.URL.Query()
	if raw := q.Get("course_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Error(w, r, invalidQuery("course_id"))
			return
		}
		filter.CourseID = id
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Error(w, r, invalidQuery("user_id"))
			return
		}
		filter.UserID = id
	}
	if raw := q.Get("payment_status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.Error(w, r, invalidQuery("payment_status"))
			return
		}
		filter.Status = status
	}

	enrollments, err := h.service.ListEnrollments(r.Context(), filter)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	views := make([]EnrollmentView, 0, len(enrollments))
	for _, e := range enrollments {
		views = append(views, newEnrollmentView(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "enrollmentID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	code, err := h.service.IssueCertificate(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"certificate_number": code})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "enrollmentID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": events})
}
