package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Structural limits enforced at write time.
const (
	MaxLessonsPerCourse = 5
	MaxCourseHours      = 10
	MaxLessonHours      = 4
	MaxCourseNameLen    = 30
	MaxDescriptionLen   = 100
	MaxLessonNameLen    = 50

	MinPrice Money = 100_00
	// MaxPrice mirrors a NUMERIC(10,2) column.
	MaxPrice Money = 99_999_999_99
)

// Course is a purchasable course in the catalog.
type Course struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Hours       int       `json:"hours" db:"hours"`
	Price       Money     `json:"price" db:"price_cents"`
	StartDate   Date      `json:"start_date" db:"start_date"`
	EndDate     Date      `json:"end_date" db:"end_date"`
	Image       string    `json:"img,omitempty" db:"img"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Lesson belongs to exactly one course and is deleted with it.
type Lesson struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CourseID    uuid.UUID `json:"course_id" db:"course_id"`
	Name        string    `json:"name" db:"name"`
	TextContent string    `json:"text_content" db:"text_content"`
	VideoLink   string    `json:"video_link" db:"video_link"`
	Hours       int       `json:"hours" db:"hours"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CourseInput carries the writable fields of a course.
type CourseInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Hours       int    `json:"hours"`
	Price       Money  `json:"price"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	// ImageName is the uploaded cover file name; only its extension is kept.
	ImageName string `json:"img"`
}

// LessonInput carries the writable fields of a lesson.
type LessonInput struct {
	Name        string `json:"name"`
	TextContent string `json:"description"`
	VideoLink   string `json:"video_link"`
	Hours       int    `json:"hours"`
}

// CourseCreatedEvent is recorded when a course is added to the catalog.
type CourseCreatedEvent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Price     Money     `json:"price"`
	StartDate Date      `json:"start_date"`
	EndDate   Date      `json:"end_date"`
}

// CourseUpdatedEvent is recorded when course fields change.
type CourseUpdatedEvent struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price Money     `json:"price"`
}

// CourseDeletedEvent is recorded when a course and its lessons are removed.
type CourseDeletedEvent struct {
	ID uuid.UUID `json:"id"`
}

// LessonAddedEvent is recorded when a lesson is attached to a course.
type LessonAddedEvent struct {
	ID       uuid.UUID `json:"id"`
	CourseID uuid.UUID `json:"course_id"`
	Name     string    `json:"name"`
}

// LessonDeletedEvent is recorded when a lesson is removed.
type LessonDeletedEvent struct {
	ID       uuid.UUID `json:"id"`
	CourseID uuid.UUID `json:"course_id"`
}
