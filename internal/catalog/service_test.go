package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coursemarket/internal/apperr"
	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/eventstore"
	"coursemarket/internal/storage/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fixture struct {
	store   *memory.Store
	events  *eventstore.MemoryStore
	service catalog.Service
}

func newFixture() *fixture {
	store := memory.NewStore()
	events := eventstore.NewMemoryStore()
	svc := catalog.NewService(store.Catalog(), store.Enrollments(), eventstore.NewJournal(events), nil, 100)
	return &fixture{store: store, events: events, service: svc}
}

func courseInput(name string) catalog.CourseInput {
	start, _ := catalog.ParseDate("2030-03-01")
	end, _ := catalog.ParseDate("2030-04-01")
	return catalog.CourseInput{
		Name:      name,
		Hours:     5,
		Price:     1000_00,
		StartDate: start,
		EndDate:   end,
	}
}

func lessonInput(n int) catalog.LessonInput {
	return catalog.LessonInput{
		Name:        "Lesson",
		TextContent: "text",
		VideoLink:   "https://super-tube.cc/video/l" + string(rune('a'+n%26)),
		Hours:       1,
	}
}

func (f *fixture) enroll(t testing.TB, courseID uuid.UUID, status enrollment.Status) {
	t.Helper()
	_, created, err := f.store.Enrollments().GetOrCreate(context.Background(), &enrollment.Enrollment{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		CourseID:  courseID,
		Status:    status,
		OrderID:   uuid.NewString(),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateCourse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	in := courseInput("Distributed systems")
	in.ImageName = "cover.jpg"
	course, err := f.service.CreateCourse(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, course.ID)
	assert.Regexp(t, `^courses/mpic_[0-9a-f]{8}\.jpg$`, course.Image)

	got, err := f.service.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, course.Name, got.Name)

	events, err := f.events.LoadEvents(ctx, course.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "CourseCreated", events[0].EventType)
}

func TestCreateCourseRejectsInvalidFields(t *testing.T) {
	f := newFixture()
	in := courseInput("")
	in.Hours = 12

	_, err := f.service.CreateCourse(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateCourse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	in := courseInput("Original")
	in.ImageName = "a.jpeg"
	course, err := f.service.CreateCourse(ctx, in)
	require.NoError(t, err)

	update := courseInput("Renamed")
	updated, err := f.service.UpdateCourse(ctx, course.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, course.Image, updated.Image, "empty image name keeps the cover")

	_, err = f.service.UpdateCourse(ctx, uuid.New(), update)
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
}

func TestCreateLessonCapacity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	course, err := f.service.CreateCourse(ctx, courseInput("Capped"))
	require.NoError(t, err)

	for i := 0; i < catalog.MaxLessonsPerCourse; i++ {
		_, err := f.service.CreateLesson(ctx, course.ID, lessonInput(i))
		require.NoError(t, err, "lesson %d", i+1)
	}

	_, err = f.service.CreateLesson(ctx, course.ID, lessonInput(6))
	assert.ErrorIs(t, err, catalog.ErrCapacityExceeded)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	lessons, err := f.service.ListLessons(ctx, course.ID)
	require.NoError(t, err)
	assert.Len(t, lessons, catalog.MaxLessonsPerCourse)
}

func TestCreateLessonCapacityUnderConcurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	course, err := f.service.CreateCourse(ctx, courseInput("Race"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.service.CreateLesson(ctx, course.ID, lessonInput(i)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, catalog.MaxLessonsPerCourse, created)
}

// With n existing lessons, one more succeeds exactly when n < 5.
func TestLessonCapacityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture()
		ctx := context.Background()
		course, err := f.service.CreateCourse(ctx, courseInput("Property"))
		if err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(0, catalog.MaxLessonsPerCourse).Draw(t, "existing")
		for i := 0; i < n; i++ {
			if _, err := f.service.CreateLesson(ctx, course.ID, lessonInput(i)); err != nil {
				t.Fatalf("lesson %d: %v", i, err)
			}
		}

		_, err = f.service.CreateLesson(ctx, course.ID, lessonInput(n))
		if n < catalog.MaxLessonsPerCourse && err != nil {
			t.Fatalf("lesson %d rejected: %v", n+1, err)
		}
		if n == catalog.MaxLessonsPerCourse && !errors.Is(err, catalog.ErrCapacityExceeded) {
			t.Fatalf("lesson %d: got %v, want capacity exceeded", n+1, err)
		}
	})
}

func TestCreateLessonRejectsForeignVideo(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, courseInput("Video"))
	require.NoError(t, err)

	in := lessonInput(0)
	in.VideoLink = "https://youtube.com/watch?v=1"
	_, err = f.service.CreateLesson(ctx, course.ID, in)
	assert.ErrorIs(t, err, catalog.ErrInvalidReference)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateLessonUnknownCourse(t *testing.T) {
	f := newFixture()
	_, err := f.service.CreateLesson(context.Background(), uuid.New(), lessonInput(0))
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
}

func TestDeleteCourseGuard(t *testing.T) {
	for _, status := range []enrollment.Status{enrollment.StatusPending, enrollment.StatusSuccess, enrollment.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			course, err := f.service.CreateCourse(ctx, courseInput("Guarded"))
			require.NoError(t, err)
			lesson, err := f.service.CreateLesson(ctx, course.ID, lessonInput(0))
			require.NoError(t, err)

			f.enroll(t, course.ID, status)

			assert.ErrorIs(t, f.service.DeleteLesson(ctx, lesson.ID), catalog.ErrReferentialConflict)
			assert.ErrorIs(t, f.service.DeleteCourse(ctx, course.ID), catalog.ErrReferentialConflict)

			_, err = f.service.GetCourse(ctx, course.ID)
			assert.NoError(t, err)
		})
	}
}

func TestDeleteCourseWithoutEnrollmentsCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, courseInput("Free"))
	require.NoError(t, err)
	lesson, err := f.service.CreateLesson(ctx, course.ID, lessonInput(0))
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteCourse(ctx, course.ID))

	_, err = f.service.GetCourse(ctx, course.ID)
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
	_, err = f.store.Catalog().GetLesson(ctx, lesson.ID)
	assert.ErrorIs(t, err, catalog.ErrLessonNotFound)
}

func TestDeleteLesson(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	course, err := f.service.CreateCourse(ctx, courseInput("Lessons"))
	require.NoError(t, err)
	lesson, err := f.service.CreateLesson(ctx, course.ID, lessonInput(0))
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteLesson(ctx, lesson.ID))
	assert.ErrorIs(t, f.service.DeleteLesson(ctx, lesson.ID), catalog.ErrLessonNotFound)
}

func TestListCoursesPagination(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := f.service.CreateCourse(ctx, courseInput("Course"))
		require.NoError(t, err)
	}

	page, err := f.service.ListCourses(ctx, catalog.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, catalog.DefaultPageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.Current)
	assert.Equal(t, catalog.DefaultPageSize, page.PerPage)

	page, err = f.service.ListCourses(ctx, catalog.PageRequest{Page: 3})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = f.service.ListCourses(ctx, catalog.PageRequest{Page: 2, Size: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalPages)

	_, err = f.service.ListCourses(ctx, catalog.PageRequest{Page: 4})
	assert.ErrorIs(t, err, catalog.ErrPageNotFound)
	_, err = f.service.ListCourses(ctx, catalog.PageRequest{Page: -1})
	assert.ErrorIs(t, err, catalog.ErrPageNotFound)
}

func TestListCoursesEmptyCatalog(t *testing.T) {
	f := newFixture()
	page, err := f.service.ListCourses(context.Background(), catalog.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.TotalPages)
}
