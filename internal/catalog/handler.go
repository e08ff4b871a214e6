package catalog

import (
	"net/http"
	"strconv"
	"strings"

	"coursemarket/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Presenter renders catalog entities for the public API.
type Presenter struct {
	MediaBaseURL string
}

// CourseView is the public representation of a course.
type CourseView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Hours       int       `json:"hours"`
	Img         *string   `json:"img"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Price       Money     `json:"price"`
}

// LessonView is the public representation of a lesson.
type LessonView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	VideoLink   string    `json:"video_link"`
	Hours       int       `json:"hours"`
}

func (p Presenter) Course(c *Course) CourseView {
	v := CourseView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Hours:       c.Hours,
		StartDate:   c.StartDate.Display(),
		EndDate:     c.EndDate.Display(),
		Price:       c.Price,
	}
	if c.Image != "" {
		img := strings.TrimRight(p.MediaBaseURL, "/") + "/" + strings.TrimLeft(c.Image, "/")
		v.Img = &img
	}
	return v
}

func (p Presenter) Lesson(l *Lesson) LessonView {
	return LessonView{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.TextContent,
		VideoLink:   l.VideoLink,
		Hours:       l.Hours,
	}
}

type Handler struct {
	service   Service
	presenter Presenter
	// PageSize is the listing window used when the request names none.
	PageSize int
}

func NewHandler(service Service, presenter Presenter) *Handler {
	return &Handler{service: service, presenter: presenter}
}

// Routes mounts the authenticated read endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/courses", h.ListCourses)
	r.Get("/courses/{courseID}", h.GetCourse)
}

// AdminRoutes mounts catalog management endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/courses", h.CreateCourse)
	r.Put("/courses/{courseID}", h.UpdateCourse)
	r.Delete("/courses/{courseID}", h.DeleteCourse)
	r.Post("/courses/{courseID}/lessons", h.CreateLesson)
	r.Delete("/lessons/{lessonID}", h.DeleteLesson)
}

type pagination struct {
	Total   int `json:"total"`
	Current int `json:"current"`
	PerPage int `json:"per_page"`
}

type courseListResponse struct {
	Data       []CourseView `json:"data"`
	Pagination pagination   `json:"pagination"`
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	req := PageRequest{Size: h.PageSize}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			httpx.Error(w, r, ErrPageNotFound)
			return
		}
		req.Page = page
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			req.Size = size
		}
	}

	page, err := h.service.ListCourses(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	resp := courseListResponse{
		Data: make([]CourseView, 0, len(page.Items)),
		Pagination: pagination{
			Total:   page.TotalPages,
			Current: page.Current,
			PerPage: page.PerPage,
		},
	}
	for _, c := range page.Items {
		resp.Data = append(resp.Data, h.presenter.Course(c))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "courseID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	lessons, err := h.service.ListLessons(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	views := make([]LessonView, 0, len(lessons))
	for _, l := range lessons {
		views = append(views, h.presenter.Lesson(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var in CourseInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, r, err)
		return
	}

	course, err := h.service.CreateCourse(r.Context(), in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.presenter.Course(course))
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "courseID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in CourseInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, r, err)
		return
	}

	course, err := h.service.UpdateCourse(r.Context(), id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.presenter.Course(course))
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "courseID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteCourse(r.Context(), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	courseID, err := httpx.UUIDParam(r, "courseID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in LessonInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, r, err)
		return
	}

	lesson, err := h.service.CreateLesson(r.Context(), courseID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.presenter.Lesson(lesson))
}

func (h *Handler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "lessonID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteLesson(r.Context(), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
