package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/alerts"
)

// newTestPostgres connects to RELICWATCH_TEST_DATABASE_URL or skips.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("RELICWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELICWATCH_TEST_DATABASE_URL not set")
	}
	st, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func TestPostgres_Lifecycle(t *testing.T) {
	st := newTestPostgres(t)
	ctx := context.Background()
	sensor := "pg-test-" + uuid.NewString()
	created := time.Now().UTC().Truncate(time.Millisecond)

	a := types.Alert{
		ID: uuid.NewString(), SensorID: sensor, SensorType: types.SensorTemperature,
		LocationID: "hall-a", RelicsID: "vase-1", AlertType: "TEMPERATURE",
		Severity: types.SeverityWarning, Message: "too warm", CurrentReading: 35,
		Threshold: types.ThresholdRule{SensorType: types.SensorTemperature, Min: 10, Max: 30},
		Status:    types.AlertActive, CreatedAt: created,
	}
	if err := st.SaveAlert(ctx, a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	got, err := st.QueryAlerts(ctx, types.AlertQuery{SensorID: sensor, Status: types.AlertActive})
	if err != nil {
		t.Fatalf("QueryAlerts: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID || got[0].Threshold != a.Threshold {
		t.Fatalf("QueryAlerts: got %+v", got)
	}

	if n, err := st.CountAlerts(ctx, types.AlertQuery{SensorID: sensor, Status: types.AlertActive, Limit: 1}); n != 1 || err != nil {
		t.Fatalf("CountAlerts: got (%d, %v), want (1, nil)", n, err)
	}

	resolved := created.Add(time.Minute)
	if out, err := st.UpdateAlertStatus(ctx, a.ID, types.AlertResolved, resolved); out != alerts.Changed || err != nil {
		t.Fatalf("resolve: (%v, %v), want (Changed, nil)", out, err)
	}
	if out, err := st.UpdateAlertStatus(ctx, a.ID, types.AlertResolved, resolved.Add(time.Hour)); out != alerts.Unchanged || err != nil {
		t.Fatalf("re-resolve: (%v, %v), want (Unchanged, nil)", out, err)
	}
	got, _ = st.QueryAlerts(ctx, types.AlertQuery{SensorID: sensor})
	if got[0].ResolvedAt == nil || !got[0].ResolvedAt.Equal(resolved) {
		t.Errorf("ResolvedAt: got %v, want %v", got[0].ResolvedAt, resolved)
	}

	if _, err := st.UpdateAlertStatus(ctx, a.ID, types.AlertActive, resolved); !errors.Is(err, alerts.ErrInvalidTransition) {
		t.Errorf("reactivate: got %v, want ErrInvalidTransition", err)
	}
	if out, err := st.UpdateAlertStatus(ctx, uuid.NewString(), types.AlertResolved, resolved); out != alerts.NotFound || err != nil {
		t.Errorf("unknown id: got (%v, %v), want (NotFound, nil)", out, err)
	}
}

func TestPostgres_QueryTieBreaksOnInsertionOrder(t *testing.T) {
	st := newTestPostgres(t)
	ctx := context.Background()
	sensor := "pg-tie-" + uuid.NewString()
	created := time.Now().UTC().Truncate(time.Millisecond)

	var want []string
	for i := 0; i < 3; i++ {
		a := types.Alert{
			ID: uuid.NewString(), SensorID: sensor, SensorType: types.SensorGas,
			AlertType: "GAS", Severity: types.SeverityWarning, Message: "gas high",
			CurrentReading: 1500, Threshold: types.ThresholdRule{SensorType: types.SensorGas, Max: 1000},
			Status: types.AlertActive, CreatedAt: created,
		}
		if err := st.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert: %v", err)
		}
		want = append([]string{a.ID}, want...)
	}

	for run := 0; run < 3; run++ {
		got, err := st.QueryAlerts(ctx, types.AlertQuery{SensorID: sensor})
		if err != nil {
			t.Fatalf("QueryAlerts: %v", err)
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Fatalf("run %d position %d: got %s, want %s", run, i, got[i].ID, want[i])
			}
		}
	}
}
