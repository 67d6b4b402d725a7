package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/repository"
)

type memOrderRepo struct {
	mu     sync.Mutex
	seq    int64
	orders map[int64]models.Order
	writes int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[int64]models.Order)}
}

func (m *memOrderRepo) Create(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	order.ID = m.seq
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = *order
	m.writes++
	return nil
}

func (m *memOrderRepo) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &o, nil
}

func (m *memOrderRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.SessionID() == sessionID {
			copied := o
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memOrderRepo) AttachSession(ctx context.Context, id int64, sessionID string, pi *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.ProviderSessionID != nil {
		return false, nil
	}
	o.ProviderSessionID = &sessionID
	if pi != nil {
		o.ProviderPaymentIntentID = pi
	}
	m.orders[id] = o
	m.writes++
	return true, nil
}

func (m *memOrderRepo) MarkPaid(ctx context.Context, id int64, pi *string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusPaid
	o.PaidAt = &paidAt
	if pi != nil {
		o.ProviderPaymentIntentID = pi
	}
	m.orders[id] = o
	m.writes++
	return true, nil
}

func (m *memOrderRepo) MarkFailed(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = models.OrderStatusFailed
	m.orders[id] = o
	m.writes++
	return true, nil
}

func (m *memOrderRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrderRepo) set(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memOrderRepo) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type memEnrollmentRepo struct {
	mu      sync.Mutex
	seq     int64
	rows    map[int64]models.Enrollment
	writes  int
	failErr error
}

func newMemEnrollmentRepo() *memEnrollmentRepo {
	return &memEnrollmentRepo{rows: make(map[int64]models.Enrollment)}
}

func (m *memEnrollmentRepo) Upsert(ctx context.Context, studentID, classroomID int64, at time.Time) (*models.Enrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, false, m.failErr
	}
	for id, e := range m.rows {
		if e.StudentID == studentID && e.ClassroomID == classroomID {
			if e.Status == models.EnrollmentStatusActive {
				return &e, false, nil
			}
			e.Status = models.EnrollmentStatusActive
			e.EnrolledAt = &at
			e.DroppedAt = nil
			m.rows[id] = e
			m.writes++
			return &e, true, nil
		}
	}
	m.seq++
	e := models.Enrollment{ID: m.seq, StudentID: studentID, ClassroomID: classroomID, Status: models.EnrollmentStatusActive, EnrolledAt: &at, CreatedAt: at, UpdatedAt: at}
	m.rows[e.ID] = e
	m.writes++
	return &e, true, nil
}

func (m *memEnrollmentRepo) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (m *memEnrollmentRepo) FindByPair(ctx context.Context, studentID, classroomID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if e.StudentID == studentID && e.ClassroomID == classroomID {
			copied := e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memEnrollmentRepo) DropActiveForStudent(ctx context.Context, studentID int64, classroomID *int64, at time.Time) (int64, error) {
	return m.drop(func(e models.Enrollment) bool {
		return e.StudentID == studentID && (classroomID == nil || e.ClassroomID == *classroomID)
	}, at), nil
}

func (m *memEnrollmentRepo) DropAllActiveForClassroom(ctx context.Context, classroomID int64, at time.Time) (int64, error) {
	return m.drop(func(e models.Enrollment) bool { return e.ClassroomID == classroomID }, at), nil
}

func (m *memEnrollmentRepo) drop(match func(models.Enrollment) bool, at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.rows {
		if e.Status == models.EnrollmentStatusActive && match(e) {
			e.Status = models.EnrollmentStatusDropped
			e.DroppedAt = &at
			m.rows[id] = e
			n++
		}
	}
	return n
}

func (m *memEnrollmentRepo) Complete(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return false, nil
	}
	e.Status = models.EnrollmentStatusCompleted
	m.rows[id] = e
	return true, nil
}

func (m *memEnrollmentRepo) PurgeDropped(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.rows {
		if e.Status == models.EnrollmentStatusDropped && e.DroppedAt != nil && e.DroppedAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.rows {
		if filter.StudentID != nil && e.StudentID != *filter.StudentID {
			continue
		}
		if filter.ClassroomID != nil && e.ClassroomID != *filter.ClassroomID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memEnrollmentRepo) countPair(studentID, classroomID int64, status models.EnrollmentStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.rows {
		if e.StudentID == studentID && e.ClassroomID == classroomID && (status == "" || e.Status == status) {
			n++
		}
	}
	return n
}

type memGradeRepo struct {
	seq    int64
	grades map[int64]models.Grade
}

func newMemGradeRepo() *memGradeRepo {
	return &memGradeRepo{grades: make(map[int64]models.Grade)}
}

func (m *memGradeRepo) Create(ctx context.Context, grade *models.Grade) error {
	m.seq++
	grade.ID = m.seq
	m.grades[grade.ID] = *grade
	return nil
}

func (m *memGradeRepo) FindByID(ctx context.Context, id int64) (*models.Grade, error) {
	g, ok := m.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

func (m *memGradeRepo) Update(ctx context.Context, grade *models.Grade) error {
	if _, ok := m.grades[grade.ID]; !ok {
		return sql.ErrNoRows
	}
	m.grades[grade.ID] = *grade
	return nil
}

func (m *memGradeRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.grades[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.grades, id)
	return nil
}

func (m *memGradeRepo) ListByEnrollment(ctx context.Context, enrollmentID int64) ([]models.Grade, error) {
	var out []models.Grade
	for _, g := range m.grades {
		if g.EnrollmentID == enrollmentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memGradeRepo) TotalsForEnrollment(ctx context.Context, enrollmentID int64) (*repository.GradeTotals, error) {
	totals := &repository.GradeTotals{}
	for _, g := range m.grades {
		if g.EnrollmentID == enrollmentID {
			totals.Score += g.Score
			totals.MaxScore += g.MaxScore
			totals.Count++
		}
	}
	return totals, nil
}

type memUsers map[int64]models.User

func (m memUsers) FindByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

type memClassrooms map[int64]models.Classroom

func (m memClassrooms) FindByID(ctx context.Context, id int64) (*models.Classroom, error) {
	c, ok := m[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

type memCache struct {
	items       map[string]models.GradeAverage
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]models.GradeAverage)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	v, ok := c.items[key]
	if !ok {
		return false, nil
	}
	*dest.(*models.GradeAverage) = v
	return true, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.items[key] = *value.(*models.GradeAverage)
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.items, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.PaymentEventType
}

func (a *recordingAuditor) Record(order *models.Order, eventType models.PaymentEventType, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
}

func (a *recordingAuditor) count(t models.PaymentEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e == t {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	orders []int64
}

func (n *recordingNotifier) EnrollmentFailed(order *models.Order, cause error) {
	n.orders = append(n.orders, order.ID)
}

func int64Ptr(v int64) *int64 { return &v }
