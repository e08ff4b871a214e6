package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/membership"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to a PostgreSQL database for testing, applies the
// schema and empties every table. It skips the test if no server is reachable.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE TABLE events, enrollments, lessons, courses, members CASCADE`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedMember(t testing.TB, db *sqlx.DB) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	m := &membership.Member{ID: uuid.New(), Email: uuid.NewString() + "@example.com", PasswordHash: "h", Salt: "s", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, NewMemberRepository(db).Create(context.Background(), m))
	return m.ID
}

func seedCourse(t testing.TB, db *sqlx.DB) *catalog.Course {
	t.Helper()
	now := time.Now().UTC()
	start, _ := catalog.ParseDate("2030-03-01")
	end, _ := catalog.ParseDate("2030-04-01")
	c := &catalog.Course{
		ID: uuid.New(), Name: "Course", Hours: 3, Price: 500_00,
		StartDate: start, EndDate: end, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, NewCatalogRepository(db).CreateCourse(context.Background(), c))
	return c
}

func newEnrollment(user, course uuid.UUID) *enrollment.Enrollment {
	now := time.Now().UTC()
	return &enrollment.Enrollment{
		ID: uuid.New(), UserID: user, CourseID: course,
		Status: enrollment.StatusPending, OrderID: uuid.NewString(),
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	ctx := context.Background()

	c := seedCourse(t, db)
	got, err := repo.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Price, got.Price)
	assert.Equal(t, "01-03-2030", got.StartDate.Display())

	c.Name = "Renamed"
	require.NoError(t, repo.UpdateCourse(ctx, c))
	courses, total, err := repo.ListCourses(ctx, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, courses, 1)
	assert.Equal(t, "Renamed", courses[0].Name)

	_, err = repo.GetCourse(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
}

func TestAddLessonCapacityUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	c := seedCourse(t, db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.AddLesson(context.Background(), &catalog.Lesson{
				ID: uuid.New(), CourseID: c.ID, Name: "L", TextContent: "t", Hours: 1, CreatedAt: time.Now().UTC(),
			}, catalog.MaxLessonsPerCourse)
			if err == nil {
				mu.Lock()
				added++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, catalog.ErrCapacityExceeded)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, catalog.MaxLessonsPerCourse, added)
}

func TestDeleteBlockedByEnrollment(t *testing.T) {
	db := setupTestDB(t)
	catalogRepo := NewCatalogRepository(db)
	enrollments := NewEnrollmentRepository(db)
	ctx := context.Background()

	c := seedCourse(t, db)
	lesson := &catalog.Lesson{ID: uuid.New(), CourseID: c.ID, Name: "L", TextContent: "t", CreatedAt: time.Now().UTC()}
	require.NoError(t, catalogRepo.AddLesson(ctx, lesson, catalog.MaxLessonsPerCourse))

	_, _, err := enrollments.GetOrCreate(ctx, newEnrollment(seedMember(t, db), c.ID))
	require.NoError(t, err)

	assert.ErrorIs(t, catalogRepo.DeleteCourse(ctx, c.ID), catalog.ErrReferentialConflict)
	assert.ErrorIs(t, catalogRepo.DeleteLesson(ctx, lesson.ID), catalog.ErrReferentialConflict)
	assert.ErrorIs(t, catalogRepo.DeleteLesson(ctx, uuid.New()), catalog.ErrLessonNotFound)
}

func TestDeleteCourseCascadesLessons(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	ctx := context.Background()

	c := seedCourse(t, db)
	lesson := &catalog.Lesson{ID: uuid.New(), CourseID: c.ID, Name: "L", TextContent: "t", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.AddLesson(ctx, lesson, catalog.MaxLessonsPerCourse))

	require.NoError(t, repo.DeleteCourse(ctx, c.ID))
	_, err := repo.GetLesson(ctx, lesson.ID)
	assert.ErrorIs(t, err, catalog.ErrLessonNotFound)
	assert.ErrorIs(t, repo.DeleteCourse(ctx, c.ID), catalog.ErrCourseNotFound)
}

func TestGetOrCreateUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnrollmentRepository(db)
	user := seedMember(t, db)
	c := seedCourse(t, db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.GetOrCreate(context.Background(), newEnrollment(user, c.ID))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	rows, err := repo.List(context.Background(), enrollment.Filter{UserID: user, CourseID: c.ID})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPaymentStatusTransitions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	e, _, err := repo.GetOrCreate(ctx, newEnrollment(seedMember(t, db), seedCourse(t, db).ID))
	require.NoError(t, err)

	prev, got, err := repo.ApplyPaymentStatus(ctx, e.OrderID, enrollment.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, prev)
	assert.Equal(t, enrollment.StatusFailed, got.Status)

	reissued, err := repo.ReissueOrder(ctx, e.ID, "new-order")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, reissued.Status)

	_, _, err = repo.ApplyPaymentStatus(ctx, e.OrderID, enrollment.StatusSuccess)
	assert.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound, "old order id no longer matches")

	_, got, err = repo.ApplyPaymentStatus(ctx, "new-order", enrollment.StatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusSuccess, got.Status)

	prev, got, err = repo.ApplyPaymentStatus(ctx, "new-order", enrollment.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusSuccess, prev)
	assert.Equal(t, enrollment.StatusSuccess, got.Status)

	_, err = repo.ReissueOrder(ctx, e.ID, "third")
	assert.ErrorIs(t, err, enrollment.ErrAlreadyEnrolled)
}

func TestDeleteUnpaid(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()
	user := seedMember(t, db)

	pending, _, err := repo.GetOrCreate(ctx, newEnrollment(user, seedCourse(t, db).ID))
	require.NoError(t, err)
	paid, _, err := repo.GetOrCreate(ctx, newEnrollment(user, seedCourse(t, db).ID))
	require.NoError(t, err)
	_, _, err = repo.ApplyPaymentStatus(ctx, paid.OrderID, enrollment.StatusSuccess)
	require.NoError(t, err)

	_, err = repo.DeleteUnpaid(ctx, uuid.New(), pending.ID)
	assert.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound)

	removed, err := repo.DeleteUnpaid(ctx, user, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, removed.ID)

	_, err = repo.DeleteUnpaid(ctx, user, paid.ID)
	assert.ErrorIs(t, err, enrollment.ErrAlreadyPaid)
	_, err = repo.Get(ctx, paid.ID)
	assert.NoError(t, err)
}

func TestSetCertificate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()
	user := seedMember(t, db)

	a, _, err := repo.GetOrCreate(ctx, newEnrollment(user, seedCourse(t, db).ID))
	require.NoError(t, err)
	b, _, err := repo.GetOrCreate(ctx, newEnrollment(user, seedCourse(t, db).ID))
	require.NoError(t, err)

	unpaid, err := repo.SetCertificate(ctx, a.ID, "ABCDEF000001")
	require.NoError(t, err)
	assert.Nil(t, unpaid.CertificateNumber)

	for _, e := range []*enrollment.Enrollment{a, b} {
		_, _, err := repo.ApplyPaymentStatus(ctx, e.OrderID, enrollment.StatusSuccess)
		require.NoError(t, err)
	}

	got, err := repo.SetCertificate(ctx, a.ID, "ABCDEF000001")
	require.NoError(t, err)
	require.NotNil(t, got.CertificateNumber)
	assert.Equal(t, "ABCDEF000001", *got.CertificateNumber)

	got, err = repo.SetCertificate(ctx, a.ID, "ABCDEF000002")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF000001", *got.CertificateNumber, "first code is immutable")

	_, err = repo.SetCertificate(ctx, b.ID, "ABCDEF000001")
	assert.ErrorIs(t, err, enrollment.ErrCertificateTaken)

	exists, err := repo.CertificateExists(ctx, "ABCDEF000001")
	require.NoError(t, err)
	assert.True(t, exists)
	found, err := repo.FindByCertificate(ctx, "ABCDEF000001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestMemberRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMemberRepository(db)
	ctx := context.Background()

	id := seedMember(t, db)
	m, err := repo.Get(ctx, id)
	require.NoError(t, err)

	dup := *m
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, &dup), membership.ErrEmailTaken)

	require.NoError(t, repo.SetAdmin(ctx, id, true))
	m, err = repo.GetByEmail(ctx, m.Email)
	require.NoError(t, err)
	assert.True(t, m.Admin)

	assert.ErrorIs(t, repo.SetAdmin(ctx, uuid.New(), true), membership.ErrMemberNotFound)
}
