package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type memStudents struct {
	mu   sync.Mutex
	rows map[string]models.Student
	seq  int
}

func newMemStudents(students ...models.Student) *memStudents {
	m := &memStudents{rows: make(map[string]models.Student)}
	for _, s := range students {
		if s.Status == "" {
			s.Status = models.StudentStatusNormal
		}
		if s.Version == 0 {
			s.Version = 1
		}
		m.rows[s.ID] = s
	}
	return m
}

func (m *memStudents) get(id string) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	all, _ := m.ListAll(ctx, nil, repository.LockNone)
	return all, len(all), nil
}

func (m *memStudents) ListAll(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Student, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStudents) ListIDs(ctx context.Context) ([]string, error) {
	all, _ := m.ListAll(ctx, nil, repository.LockNone)
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (m *memStudents) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memStudents) FindByIdentityRef(ctx context.Context, identityRef string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.IdentityRef == identityRef {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStudents) FindByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string, lock repository.RowLock) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Student
	for _, id := range ids {
		if s, ok := m.rows[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStudents) ExistsByNIS(ctx context.Context, nis string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.NIS == nis {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStudents) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if student.ID == "" {
		student.ID = fmt.Sprintf("student-%d", m.seq)
	}
	student.Version = 1
	m.rows[student.ID] = *student
	return nil
}

func (m *memStudents) AddPoints(ctx context.Context, exec sqlx.ExtContext, id string, delta int) (*models.PointTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.PointTotal += delta
	if s.PointTotal < 0 {
		s.PointTotal = 0
	}
	s.Version++
	m.rows[id] = s
	return &models.PointTally{StudentID: id, PointTotal: s.PointTotal, Status: s.Status, Version: s.Version}, nil
}

func (m *memStudents) SetPointTotal(ctx context.Context, exec sqlx.ExtContext, id string, total int) (*models.PointTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.PointTotal = total
	s.Version++
	m.rows[id] = s
	return &models.PointTally{StudentID: id, PointTotal: s.PointTotal, Status: s.Status, Version: s.Version}, nil
}

func (m *memStudents) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.StudentStatus, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Version != expectedVersion {
		return false, nil
	}
	s.Status = status
	s.Version++
	m.rows[id] = s
	return true, nil
}

func (m *memStudents) DeleteMany(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.rows[id]; ok {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type memViolations struct {
	mu   sync.Mutex
	rows map[string]models.Violation
	seq  int
}

func newMemViolations(violations ...models.Violation) *memViolations {
	m := &memViolations{rows: make(map[string]models.Violation)}
	for _, v := range violations {
		m.rows[v.ID] = v
	}
	return m
}

func (m *memViolations) Create(ctx context.Context, exec sqlx.ExtContext, violation *models.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if violation.ID == "" {
		violation.ID = fmt.Sprintf("violation-%d", m.seq)
	}
	violation.CreatedAt = time.Now().UTC()
	m.rows[violation.ID] = *violation
	return nil
}

func (m *memViolations) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &v, nil
}

func (m *memViolations) List(ctx context.Context, filter models.ViolationFilter) ([]models.Violation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Violation
	for _, v := range m.rows {
		if filter.StudentID != "" && v.StudentID != filter.StudentID {
			continue
		}
		if !filter.IncludeReversed && v.Reversed {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memViolations) MarkReversed(ctx context.Context, exec sqlx.ExtContext, id, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok || v.Reversed {
		return sql.ErrNoRows
	}
	v.Reversed = true
	v.ReversedAt = &at
	v.ReversedBy = &actorID
	m.rows[id] = v
	return nil
}

func (m *memViolations) SumActivePoints(ctx context.Context, exec sqlx.ExtContext, studentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, v := range m.rows {
		if v.StudentID == studentID && !v.Reversed {
			total += int(v.Points)
		}
	}
	return total, nil
}

func (m *memViolations) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, v := range m.rows {
		if containsString(studentIDs, v.StudentID) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type memSettings struct {
	mu      sync.Mutex
	current *models.ThresholdSettings
}

func (m *memSettings) Get(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) (*models.ThresholdSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, sql.ErrNoRows
	}
	copied := *m.current
	return &copied, nil
}

func (m *memSettings) Save(ctx context.Context, exec sqlx.ExtContext, probationAt, expulsionRiskAt uint, expectedVersion int64, updatedBy string) (*models.ThresholdSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Version != expectedVersion {
		return nil, sql.ErrNoRows
	}
	m.current = &models.ThresholdSettings{
		ProbationAt:     probationAt,
		ExpulsionRiskAt: expulsionRiskAt,
		Version:         expectedVersion + 1,
		UpdatedBy:       &updatedBy,
		UpdatedAt:       time.Now().UTC(),
	}
	copied := *m.current
	return &copied, nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []models.StatusChange
}

func (m *memHistory) Create(ctx context.Context, exec sqlx.ExtContext, change *models.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	change.ID = fmt.Sprintf("history-%d", len(m.rows)+1)
	m.rows = append(m.rows, *change)
	return nil
}

func (m *memHistory) ListByStudent(ctx context.Context, studentID string) ([]models.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StatusChange
	for _, c := range m.rows {
		if c.StudentID == studentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memHistory) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, c := range m.rows {
		if containsString(studentIDs, c.StudentID) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return n, nil
}

type memAppeals struct {
	mu   sync.Mutex
	rows map[string]models.Appeal
	seq  int
}

func newMemAppeals() *memAppeals {
	return &memAppeals{rows: make(map[string]models.Appeal)}
}

func (m *memAppeals) Create(ctx context.Context, appeal *models.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if appeal.ID == "" {
		appeal.ID = fmt.Sprintf("appeal-%d", m.seq)
	}
	appeal.Decision = models.AppealPending
	m.rows[appeal.ID] = *appeal
	return nil
}

func (m *memAppeals) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (m *memAppeals) HasPending(ctx context.Context, violationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.ViolationID == violationID && a.Decision == models.AppealPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAppeals) List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Appeal
	for _, a := range m.rows {
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memAppeals) Decide(ctx context.Context, exec sqlx.ExtContext, id string, decision models.AppealDecision, decidedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.Decision != models.AppealPending {
		return sql.ErrNoRows
	}
	a.Decision = decision
	a.DecidedBy = &decidedBy
	a.DecidedAt = &at
	m.rows[id] = a
	return nil
}

func (m *memAppeals) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.rows {
		if containsString(studentIDs, a.StudentID) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type memNotifications struct {
	mu      sync.Mutex
	rows    []models.Notification
	failFor map[string]error
}

func newMemNotifications() *memNotifications {
	return &memNotifications{failFor: make(map[string]error)}
}

func (m *memNotifications) Create(ctx context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[n.RecipientID]; err != nil {
		return false, err
	}
	if n.DedupeKey != nil {
		for _, existing := range m.rows {
			if existing.RecipientID == n.RecipientID && existing.DedupeKey != nil && *existing.DedupeKey == *n.DedupeKey {
				return false, nil
			}
		}
	}
	n.ID = fmt.Sprintf("notification-%d", len(m.rows)+1)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, *n)
	return true, nil
}

func (m *memNotifications) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.rows {
		if n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *memNotifications) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	items, _, _ := m.List(ctx, models.NotificationFilter{RecipientID: recipientID, UnreadOnly: true})
	return len(items), nil
}

func (m *memNotifications) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && m.rows[i].RecipientID == recipientID {
			m.rows[i].Read = true
			m.rows[i].ReadAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memNotifications) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rows {
		if m.rows[i].RecipientID == recipientID && !m.rows[i].Read {
			m.rows[i].Read = true
			m.rows[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memNotifications) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, row := range m.rows {
		if row.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return n, nil
}

func (m *memNotifications) DeleteByRecipients(ctx context.Context, exec sqlx.ExtContext, recipientIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, row := range m.rows {
		if containsString(recipientIDs, row.RecipientID) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return n, nil
}

// forRecipient returns the notifications addressed to recipient, optionally of one kind.
func (m *memNotifications) forRecipient(recipient string, kind models.NotificationKind) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.rows {
		if n.RecipientID == recipient && (kind == "" || n.Kind == kind) {
			out = append(out, n)
		}
	}
	return out
}

type memUsers struct {
	mu     sync.Mutex
	rows   map[string]models.User
	seq    int
	delErr error
}

func newMemUsers(users ...models.User) *memUsers {
	m := &memUsers{rows: make(map[string]models.User)}
	for _, u := range users {
		m.rows[u.ID] = u
	}
	return m
}

func (m *memUsers) ListActiveIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, u := range m.rows {
		if u.Role == role && u.Active {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if user.ID == "" {
		user.ID = fmt.Sprintf("user-%d", m.seq)
	}
	m.rows[user.ID] = *user
	return nil
}

func (m *memUsers) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	rows []models.AuditLog
}

func (m *memAudit) Create(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *log)
	return nil
}

func (m *memAudit) DeleteByResources(ctx context.Context, exec sqlx.ExtContext, resource string, resourceIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, row := range m.rows {
		if row.Resource == resource && row.ResourceID != nil && containsString(resourceIDs, *row.ResourceID) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return n, nil
}

type stubRules map[string]models.Rule

func (r stubRules) Lookup(ctx context.Context, id string) (*models.Rule, error) {
	rule, ok := r[id]
	if !ok || !rule.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
	}
	return &rule, nil
}

// ledgerWorld wires the real ledger, status and notification services over in-memory stores.
type ledgerWorld struct {
	mock          sqlmock.Sqlmock
	tx            txProvider
	students      *memStudents
	violations    *memViolations
	settings      *memSettings
	history       *memHistory
	notifications *memNotifications
	users         *memUsers
	status        *StatusService
	notifier      *NotificationService
	ledger        *ViolationService
}

func newLedgerWorld(t *testing.T, rules stubRules, students ...models.Student) *ledgerWorld {
	tx, mock := newTxProviderMock(t)
	w := &ledgerWorld{
		mock:          mock,
		tx:            tx,
		students:      newMemStudents(students...),
		violations:    newMemViolations(),
		settings:      &memSettings{},
		history:       &memHistory{},
		notifications: newMemNotifications(),
		users: newMemUsers(
			models.User{ID: "admin-1", Role: models.RoleAdmin, Active: true},
			models.User{ID: "admin-2", Role: models.RoleAdmin, Active: true},
			models.User{ID: "admin-off", Role: models.RoleAdmin, Active: false},
			models.User{ID: "instructor-1", Role: models.RoleInstructor, Active: true},
		),
	}
	defaults := models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}
	w.status = NewStatusService(w.students, w.settings, w.history, defaults, nil, zap.NewNop())
	w.notifier = NewNotificationService(w.notifications, w.users, nil, zap.NewNop(), NotificationConfig{Concurrency: 4, Dedupe: true})
	w.ledger = NewViolationService(tx, w.violations, w.students, rules, w.status, w.notifier, nil, nil, zap.NewNop())
	return w
}

func adminActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func studentActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
