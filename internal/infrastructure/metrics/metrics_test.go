package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/ingest"
)

func TestMetrics_ConnectionState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.StateChanged(mqtt.StateConnecting)
	if got := testutil.ToFloat64(m.connectionState); got != 1 {
		t.Errorf("connection_state = %v, want 1", got)
	}
	m.StateChanged(mqtt.StateConnected)
	if got := testutil.ToFloat64(m.connectionState); got != 2 {
		t.Errorf("connection_state = %v, want 2", got)
	}
}

func TestMetrics_ConnectResults(t *testing.T) {
	m := New(prometheus.NewRegistry())

	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{fmt.Errorf("%w after 30s", mqtt.ErrConnectTimeout), "timeout"},
		{mqtt.ErrConnectAborted, "aborted"},
		{fmt.Errorf("%w: refused", mqtt.ErrTransport), "transport"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		m.ConnectFinished(tt.err)
		if got := testutil.ToFloat64(m.connects.WithLabelValues(tt.want)); got != 1 {
			t.Errorf("connect_attempts_total{result=%q} = %v, want 1", tt.want, got)
		}
	}
}

func TestMetrics_PublishAndMessages(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PublishFinished("smartfarm/actuators/pump", nil)
	m.PublishFinished("smartfarm/actuators/pump", errors.New("nack"))
	m.MessageHandled(ingest.RouteSensor, ingest.OutcomePersisted)
	m.MessageHandled(ingest.RouteSensor, ingest.OutcomePersisted)
	m.MessageHandled(ingest.RouteStatus, ingest.OutcomeDecodeError)

	if got := testutil.ToFloat64(m.publishes.WithLabelValues("smartfarm/actuators/pump", "failure")); got != 1 {
		t.Errorf("publishes failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("sensor", "persisted")); got != 2 {
		t.Errorf("messages sensor/persisted = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.messages); got != 2 {
		t.Errorf("message series = %d, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetWebSocketClients(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "farmbridge_websocket_clients 3") {
		t.Errorf("exposition missing websocket gauge:\n%s", body)
	}
}

func TestRegisterCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	var n uint64 = 4
	RegisterCounter(reg, "websocket", "dropped_events_total", "Dropped events.", func() uint64 { return n })

	n = 7
	if err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP farmbridge_websocket_dropped_events_total Dropped events.
# TYPE farmbridge_websocket_dropped_events_total counter
farmbridge_websocket_dropped_events_total 7
`), "farmbridge_websocket_dropped_events_total"); err != nil {
		t.Error(err)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("second New on the same registry did not panic")
		}
	}()
	New(reg)
}
