package catalog

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"coursemarket/internal/apperr"
)

var (
	ErrCourseNotFound      = apperr.NotFound("course_not_found", "course not found")
	ErrLessonNotFound      = apperr.NotFound("lesson_not_found", "lesson not found")
	ErrCapacityExceeded    = apperr.Conflict("capacity_exceeded", fmt.Sprintf("a course cannot contain more than %d lessons", MaxLessonsPerCourse))
	ErrReferentialConflict = apperr.Conflict("referential_conflict", "students are enrolled in this course")

	// ErrInvalidReference is the cause attached to a rejected video link.
	ErrInvalidReference = errors.New("video link must point to super-tube.cc/video/")
)

var videoLinkPattern = regexp.MustCompile(`^https?://(www\.)?super-tube\.cc/video/[A-Za-z0-9_-]+/?$`)

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true}

// Validate checks course field bounds and reports every violation at once.
func (in CourseInput) Validate() error {
	fields := apperr.FieldErrors{}

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		fields.Add("name", "This field is required.")
	case utf8.RuneCountInString(name) > MaxCourseNameLen:
		fields.Add("name", fmt.Sprintf("Ensure this field has no more than %d characters.", MaxCourseNameLen))
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLen {
		fields.Add("description", fmt.Sprintf("Ensure this field has no more than %d characters.", MaxDescriptionLen))
	}
	if in.Hours < 0 {
		fields.Add("hours", "Ensure this value is greater than or equal to 0.")
	} else if in.Hours > MaxCourseHours {
		fields.Add("hours", fmt.Sprintf("Ensure this value is less than or equal to %d.", MaxCourseHours))
	}
	if in.Price < MinPrice {
		fields.Add("price", fmt.Sprintf("Ensure this value is greater than or equal to %s.", MinPrice))
	} else if in.Price > MaxPrice {
		fields.Add("price", "Ensure that there are no more than 10 digits in total.")
	}
	if in.StartDate.IsZero() {
		fields.Add("start_date", "This field is required.")
	}
	if in.EndDate.IsZero() {
		fields.Add("end_date", "This field is required.")
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate) {
		fields.Add("end_date", "End date must not precede start date.")
	}
	if in.ImageName != "" {
		if !allowedImageExt[strings.ToLower(path.Ext(in.ImageName))] {
			fields.Add("img", "File extension is not allowed. Allowed extensions are: jpg, jpeg.")
		}
	}

	return apperr.Collect(fields)
}

// Validate checks lesson field bounds. A video link outside super-tube is
// reported on the video_link field and also matches ErrInvalidReference.
func (in LessonInput) Validate() error {
	fields := apperr.FieldErrors{}

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		fields.Add("name", "This field is required.")
	case utf8.RuneCountInString(name) > MaxLessonNameLen:
		fields.Add("name", fmt.Sprintf("Ensure this field has no more than %d characters.", MaxLessonNameLen))
	}
	if strings.TrimSpace(in.TextContent) == "" {
		fields.Add("description", "This field is required.")
	}
	if in.Hours < 0 {
		fields.Add("hours", "Ensure this value is greater than or equal to 0.")
	} else if in.Hours > MaxLessonHours {
		fields.Add("hours", fmt.Sprintf("Ensure this value is less than or equal to %d.", MaxLessonHours))
	}

	var cause error
	if in.VideoLink != "" && !videoLinkPattern.MatchString(in.VideoLink) {
		fields.Add("video_link", ErrInvalidReference.Error())
		cause = ErrInvalidReference
	}

	if len(fields) == 0 {
		return nil
	}
	return &apperr.ValidationError{Fields: fields, Cause: cause}
}

// CoverImagePath returns the storage path for an uploaded cover:
// courses/mpic_<8 hex>.<original extension>.
func CoverImagePath(filename string) (string, error) {
	if filename == "" {
		return "", nil
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate image name: %w", err)
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	return path.Join("courses", fmt.Sprintf("mpic_%s.%s", hex.EncodeToString(buf), ext)), nil
}
