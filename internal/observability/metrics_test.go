package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordTurnsAndStages(t *testing.T) {
	m := NewMetrics("storageagent_test")
	m.ObserveTurn("pricing", "entity")
	m.ObserveTurn("pricing", "entity")
	m.ConversationEvent("started", 1)
	m.ObserveTurnStage(StageRespond, 12*time.Millisecond)

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("pricing", "entity")); got != 2 {
		t.Fatalf("turns_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActiveConversations); got != 1 {
		t.Fatalf("active_conversations = %v, want 1", got)
	}
	snap := m.TurnStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 12 {
		t.Fatalf("unexpected stage snapshot: %+v", snap)
	}
	m.ResetTurnStages()
	if len(m.TurnStages().Stages) != 0 {
		t.Fatalf("stages survived reset")
	}
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("storageagent_test")
	m.CollaboratorError("units", "lookup")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `storageagent_test_collaborator_errors_total{collaborator="units",kind="lookup"} 1`) {
		t.Fatalf("metrics output missing collaborator counter:\n%s", body)
	}
}
