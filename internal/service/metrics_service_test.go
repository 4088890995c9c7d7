package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// sampleCount returns the observation count of a histogram series. An empty label matches the
// first series of an unlabelled histogram.
func sampleCount(t *testing.T, m *MetricsService, name, label, value string) uint64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if label == "" {
				return metric.GetHistogram().GetSampleCount()
			}
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func TestMetricsServiceRegistersCacheHistograms(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, 3*time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveCacheWrite(2 * time.Millisecond)

	assert.Equal(t, uint64(2), sampleCount(t, m, "cache_latency_seconds", "", ""))
	assert.Equal(t, uint64(1), sampleCount(t, m, "cache_write_seconds", "", ""))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache_lookups_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveDBQuery("record_violation", time.Millisecond)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLedgerTransactionsAreTimed(t *testing.T) {
	w := newLedgerWorld(t, catalogRules, models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani"})
	m := NewMetricsService()
	ledger := NewViolationService(w.tx, w.violations, w.students, catalogRules, w.status, w.notifier, nil, m, zap.NewNop())

	w.mock.ExpectBegin()
	w.mock.ExpectCommit()
	outcome, err := ledger.RecordViolation(context.Background(), dto.RecordViolationRequest{StudentID: "s1", RuleID: "rule-late"}, adminActor("admin-1"))
	require.NoError(t, err)

	w.mock.ExpectBegin()
	w.mock.ExpectCommit()
	_, err = ledger.ReverseViolation(context.Background(), outcome.Violation.ID, adminActor("admin-1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), sampleCount(t, m, "db_query_duration_seconds", "query", "record_violation"))
	assert.Equal(t, uint64(1), sampleCount(t, m, "db_query_duration_seconds", "query", "reverse_violation"))
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestStudentDeletionTransactionIsTimed(t *testing.T) {
	w := newDeletionWorld(t, models.Student{ID: "s1", IdentityRef: "user-s1", FullName: "Ani"})
	m := NewMetricsService()
	dependents := DeletionDependents{
		Appeals:       w.appeals,
		Violations:    w.violations,
		History:       w.history,
		Audit:         w.audit,
		Notifications: w.notifications,
	}
	svc := NewStudentDeletionService(w.tx, w.students, dependents, NewAccountIdentityProvider(w.users, zap.NewNop()), w.notifier, nil, m, zap.NewNop(), 2)

	w.mock.ExpectBegin()
	w.mock.ExpectCommit()
	_, err := svc.DeleteStudent(context.Background(), "s1", adminActor("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sampleCount(t, m, "db_query_duration_seconds", "query", "delete_students"))
}
