package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type deletionWorld struct {
	*ledgerWorld
	appeals *memAppeals
	audit   *memAudit
	svc     *StudentDeletionService
}

func newDeletionWorld(t *testing.T, students ...models.Student) *deletionWorld {
	w := &deletionWorld{
		ledgerWorld: newLedgerWorld(t, catalogRules, students...),
		appeals:     newMemAppeals(),
		audit:       &memAudit{},
	}
	for _, s := range students {
		if s.IdentityRef != "" {
			w.users.rows[s.IdentityRef] = models.User{ID: s.IdentityRef, Role: models.RoleStudent, Active: true}
		}
	}
	dependents := DeletionDependents{
		Appeals:       w.appeals,
		Violations:    w.violations,
		History:       w.history,
		Audit:         w.audit,
		Notifications: w.notifications,
	}
	identities := NewAccountIdentityProvider(w.users, zap.NewNop())
	w.svc = NewStudentDeletionService(w.tx, w.students, dependents, identities, w.notifier, nil, nil, zap.NewNop(), 2)
	return w
}

func (w *deletionWorld) seed(studentID, identityRef string) {
	ctx := context.Background()
	_ = w.violations.Create(ctx, nil, &models.Violation{StudentID: studentID, Points: 10})
	_ = w.appeals.Create(ctx, &models.Appeal{StudentID: studentID, ViolationID: "violation-x"})
	_ = w.history.Create(ctx, nil, &models.StatusChange{StudentID: studentID})
	_ = w.audit.Create(ctx, &models.AuditLog{Resource: models.AuditResourceStudent, ResourceID: &studentID})
	_, _ = w.notifications.Create(ctx, &models.Notification{RecipientID: identityRef, Kind: models.NotificationViolationRecorded, Title: "x"})
}

func TestDeleteStudentRemovesEveryDependentRecord(t *testing.T) {
	w := newDeletionWorld(t,
		models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani"},
		models.Student{ID: "s2", IdentityRef: "user-s2", FullName: "Budi"},
	)
	w.seed("s1", "user-s1")
	w.seed("s2", "user-s2")
	w.mock.ExpectBegin()
	w.mock.ExpectCommit()

	report, err := w.svc.DeleteStudent(context.Background(), "s1", adminActor("admin-1"))
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.False(t, report.IdentityOrphaned)

	_, err = w.students.FindByID(context.Background(), nil, "s1", repository.LockNone)
	assert.Error(t, err)
	total, _ := w.violations.SumActivePoints(context.Background(), nil, "s1")
	assert.Zero(t, total)
	remaining, _ := w.appeals.List(context.Background(), models.AppealFilter{StudentID: "s1"})
	assert.Empty(t, remaining)
	history, _ := w.history.ListByStudent(context.Background(), "s1")
	assert.Empty(t, history)
	assert.Len(t, w.audit.rows, 1)
	assert.Empty(t, w.notifications.forRecipient("user-s1", ""))
	_, exists := w.users.rows["user-s1"]
	assert.False(t, exists)

	// the other student is untouched
	assert.Equal(t, "Budi", w.students.get("s2").FullName)
	total, _ = w.violations.SumActivePoints(context.Background(), nil, "s2")
	assert.Equal(t, 10, total)
	assert.Len(t, w.notifications.forRecipient("user-s2", ""), 1)

	assert.Len(t, w.notifications.forRecipient("admin-1", models.NotificationStudentDeleted), 1)
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestDeleteStudentOrphanedIdentityIsQualifiedSuccess(t *testing.T) {
	w := newDeletionWorld(t, models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani"})
	w.users.delErr = errors.New("identity provider down")
	w.mock.ExpectBegin()
	w.mock.ExpectCommit()

	report, err := w.svc.DeleteStudent(context.Background(), "s1", adminActor("admin-1"))
	require.NoError(t, err)
	assert.True(t, report.IdentityOrphaned)
	assert.False(t, report.Clean())

	_, err = w.students.FindByID(context.Background(), nil, "s1", repository.LockNone)
	assert.Error(t, err)

	var identityStep dto.DeletionStep
	for _, step := range report.Steps {
		if step.Name == dto.StepDeleteIdentity {
			identityStep = step
		}
	}
	assert.False(t, identityStep.Succeeded)
	assert.NotEmpty(t, identityStep.Error)

	assert.Len(t, w.notifications.forRecipient("admin-1", models.NotificationIdentityOrphaned), 1)
	assert.Len(t, w.notifications.forRecipient("admin-2", models.NotificationIdentityOrphaned), 1)
}

func TestDeleteStudentUnknownIsNotFound(t *testing.T) {
	w := newDeletionWorld(t)
	w.mock.ExpectBegin()
	w.mock.ExpectRollback()
	_, err := w.svc.DeleteStudent(context.Background(), "missing", adminActor("admin-1"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestDeleteStudentsReportsMissingAndDeletesTheRest(t *testing.T) {
	w := newDeletionWorld(t,
		models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani"},
		models.Student{ID: "s2", IdentityRef: "user-s2", FullName: "Budi"},
	)
	w.seed("s1", "user-s1")
	w.seed("s2", "user-s2")
	w.mock.ExpectBegin()
	w.mock.ExpectCommit()

	report, err := w.svc.DeleteStudents(context.Background(), dto.BulkDeleteRequest{StudentIDs: []string{"s1", "ghost", "s2", "s1"}}, adminActor("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, []string{"s1", "s2"}, report.Deleted)
	assert.Equal(t, []string{"ghost"}, report.NotFound)
	assert.Empty(t, report.OrphanedIdentities)

	all, _ := w.students.ListAll(context.Background(), nil, repository.LockNone)
	assert.Empty(t, all)
	assert.Empty(t, w.audit.rows)
	assert.Empty(t, w.notifications.forRecipient("user-s1", ""))
	assert.Empty(t, w.notifications.forRecipient("user-s2", ""))
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestDeleteStudentsRejectsEmptyRequest(t *testing.T) {
	w := newDeletionWorld(t)
	_, err := w.svc.DeleteStudents(context.Background(), dto.BulkDeleteRequest{}, adminActor("admin-1"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = w.svc.DeleteStudents(context.Background(), dto.BulkDeleteRequest{StudentIDs: []string{"s1"}}, nil)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

type failingStudentDelete struct {
	*memStudents
}

func (f failingStudentDelete) DeleteMany(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	return 0, errors.New("foreign key violation")
}

func TestDeleteStudentFailureLeavesStudentAndIdentityIntact(t *testing.T) {
	w := newDeletionWorld(t, models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani", PointTotal: 10})
	dependents := DeletionDependents{
		Appeals:       w.appeals,
		Violations:    w.violations,
		History:       w.history,
		Audit:         w.audit,
		Notifications: w.notifications,
	}
	svc := NewStudentDeletionService(w.tx, failingStudentDelete{w.students}, dependents, NewAccountIdentityProvider(w.users, zap.NewNop()), w.notifier, nil, nil, zap.NewNop(), 2)
	w.mock.ExpectBegin()
	w.mock.ExpectRollback()

	report, err := svc.DeleteStudent(context.Background(), "s1", adminActor("admin-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))
	require.NotNil(t, report)
	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, dto.StepDeleteStudent, last.Name)
	assert.False(t, last.Succeeded)
	for _, step := range report.Steps {
		assert.NotEqual(t, dto.StepDeleteIdentity, step.Name)
	}

	assert.Equal(t, 10, w.students.get("s1").PointTotal)
	_, exists := w.users.rows["user-s1"]
	assert.True(t, exists)
	assert.Empty(t, w.notifications.forRecipient("admin-1", ""))
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestDeleteStudentsRunsEveryStoreDeleteInOneTransaction(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	db := tx.(*txProviderMock).db
	users := newMemUsers(models.User{ID: "user-s1", Role: models.RoleStudent, Active: true})
	dependents := DeletionDependents{
		Appeals:       repository.NewAppealRepository(db),
		Violations:    repository.NewViolationRepository(db),
		History:       repository.NewStatusHistoryRepository(db),
		Audit:         repository.NewAuditRepository(db),
		Notifications: repository.NewNotificationRepository(db),
	}
	notifier := NewNotificationService(newMemNotifications(), users, nil, zap.NewNop(), NotificationConfig{Concurrency: 1})
	svc := NewStudentDeletionService(tx, repository.NewStudentRepository(db), dependents, NewAccountIdentityProvider(users, zap.NewNop()), notifier, nil, nil, zap.NewNop(), 2)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity_ref", "full_name", "point_total", "status", "version"}).
			AddRow("s1", "user-s1", "Ani", 10, "NORMAL", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM appeals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM violations")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM status_history")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_logs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students")).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	report, err := svc.DeleteStudents(context.Background(), dto.BulkDeleteRequest{StudentIDs: []string{"s1"}}, adminActor("admin-1"))
	require.Error(t, err)
	assert.Empty(t, report.Deleted)
	_, exists := users.rows["user-s1"]
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
