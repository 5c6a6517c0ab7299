package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antoniostano/storageagent/internal/calllog"
	"github.com/antoniostano/storageagent/internal/config"
	"github.com/antoniostano/storageagent/internal/conversation"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/protocol"
	"github.com/antoniostano/storageagent/internal/storage"
	"github.com/antoniostano/storageagent/internal/transcription"
)

type testEnv struct {
	ts      *httptest.Server
	engine  *conversation.Engine
	calls   *calllog.InMemoryStore
	monitor *Monitor
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics("httpapi_test")
	monitor := NewMonitor(metrics, logger)
	store := storage.NewSeededStore()
	engine := conversation.NewEngine(conversation.DefaultRegistry(), store,
		conversation.WithLogger(logger),
		conversation.WithTurnHook(monitor.OnTurn),
		conversation.WithEvictHook(monitor.OnEvict),
	)
	calls := calllog.NewInMemoryStore()

	srv := New(Deps{
		Config:      cfg,
		Engine:      engine,
		Store:       store,
		CallLog:     calllog.NewRecorder(calls, logger),
		Transcriber: transcription.NewMockTranscriber(transcription.Transcript{Text: "do you have a 10x10", Confidence: 0.8}),
		Metrics:     metrics,
		Monitor:     monitor,
		Logger:      logger,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, engine: engine, calls: calls, monitor: monitor}
}

func postForm(t *testing.T, target string, form url.Values) (int, string) {
	t.Helper()
	res, err := http.PostForm(target, form)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func getJSON(t *testing.T, target string, out any) int {
	t.Helper()
	res, err := http.Get(target)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func postJSON(t *testing.T, target string, body string, out any) int {
	t.Helper()
	res, err := http.Post(target, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "mock", health["transcriber"])

	var ready map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/readyz", &ready))
	assert.Equal(t, "ready", ready["status"])

	res, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestIncomingCall(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	res, err := http.PostForm(env.ts.URL+"/api/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}})
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/xml", res.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "Thank you for calling.")
	assert.Contains(t, string(body), "/api/voice/process")

	c, ok := env.engine.Lookup("CA1")
	require.True(t, ok)
	assert.Equal(t, "+15551234567", c.CallerPhone)
	assert.Equal(t, 0, c.TurnCount)
}

func TestIncomingWithoutCallSidStillAnswers(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	status, body := postForm(t, env.ts.URL+"/api/voice/incoming", url.Values{"From": {"+15551234567"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "having trouble handling your call")
	assert.Equal(t, 0, env.engine.ActiveCount())
}

func TestProcessTurns(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantPrompt string
		wantIntent string
	}{
		{
			name:       "unit size",
			form:       url.Values{"SpeechResult": {"I need a 10 by 10 unit"}},
			wantPrompt: "Great news! We have a 10x10 unit available for $149.99 per month.",
			wantIntent: "availability",
		},
		{
			name:       "duration",
			form:       url.Values{"SpeechResult": {"I need storage for 3 months"}},
			wantPrompt: "$149.97",
			wantIntent: "pricing",
		},
		{
			name:       "dtmf pricing",
			form:       url.Values{"Digits": {"2"}},
			wantPrompt: "Our prices depend on the unit size.",
			wantIntent: "pricing",
		},
		{
			name:       "dtmf multi digit",
			form:       url.Values{"Digits": {"12"}},
			wantPrompt: "I can help you with unit availability",
			wantIntent: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.Config{})
			tt.form.Set("CallSid", "CA-"+tt.name)
			tt.form.Set("From", "+15551234567")

			status, body := postForm(t, env.ts.URL+"/api/voice/process", tt.form)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, tt.wantPrompt)
			assert.Contains(t, body, "<Gather")

			var snap struct {
				Conversation struct {
					CurrentIntent string `json:"current_intent"`
					TurnCount     int    `json:"turn_count"`
					CallerPhone   string `json:"caller_phone"`
				} `json:"conversation"`
			}
			require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/conversations/CA-"+tt.name, &snap))
			assert.Equal(t, tt.wantIntent, snap.Conversation.CurrentIntent)
			assert.Equal(t, 1, snap.Conversation.TurnCount)
			assert.Equal(t, "*******4567", snap.Conversation.CallerPhone)

			var turns struct {
				Turns []calllog.TurnRecord `json:"turns"`
			}
			require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/calls/CA-"+tt.name+"/turns", &turns))
			require.Len(t, turns.Turns, 2)
			assert.Equal(t, calllog.RoleCaller, turns.Turns[0].Role)
			assert.Equal(t, tt.wantIntent, turns.Turns[0].Intent)
			assert.Equal(t, calllog.RoleAssistant, turns.Turns[1].Role)
			assert.Contains(t, turns.Turns[1].Content, tt.wantPrompt)
		})
	}
}

func TestProcessRecordsUnitPreference(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	postForm(t, env.ts.URL+"/api/voice/process", url.Values{"CallSid": {"CA7"}, "SpeechResult": {"do you have a 10x10"}})

	c, ok := env.engine.Lookup("CA7")
	require.True(t, ok)
	assert.Equal(t, "10x10", c.UserPreferences[conversation.PrefUnitSize])
}

func TestProcessWithoutInput(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	status, body := postForm(t, env.ts.URL+"/api/voice/process", url.Values{"CallSid": {"CA1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Could you please repeat?")
	assert.Contains(t, body, "/api/voice/welcome")
	assert.Equal(t, 0, env.engine.ActiveCount())
}

func TestRecording(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	res, err := http.Post(env.ts.URL+"/api/voice/recording?CallSid=CA5", "audio/wav", bytes.NewReader(make([]byte, 4000)))
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "10x10 unit available for $149.99")

	res, err = http.Post(env.ts.URL+"/api/voice/recording?CallSid=CA5", "audio/wav", bytes.NewReader([]byte("RIFF")))
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "understand the recording")

	c, ok := env.engine.Lookup("CA5")
	require.True(t, ok)
	assert.Equal(t, 1, c.TurnCount)
}

func TestStatusCallbackEndsConversation(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	postForm(t, env.ts.URL+"/api/voice/incoming", url.Values{"CallSid": {"CA1"}})

	status, _ := postForm(t, env.ts.URL+"/api/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 1, env.engine.ActiveCount())

	status, _ = postForm(t, env.ts.URL+"/api/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 0, env.engine.ActiveCount())
	assert.Equal(t, http.StatusNotFound, getJSON(t, env.ts.URL+"/api/conversations/CA1", nil))
}

func TestWelcomeAndFallback(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	_, body := postForm(t, env.ts.URL+"/api/voice/welcome", nil)
	assert.Contains(t, body, "Welcome to Storage Agent. How may I assist you today?")

	_, body = postForm(t, env.ts.URL+"/api/voice/fallback", url.Values{"CallSid": {"CA1"}, "ErrorCode": {"11200"}})
	assert.Contains(t, body, "experiencing technical difficulties")
}

func TestSignatureValidationRejectsUnsignedWebhooks(t *testing.T) {
	env := newTestEnv(t, config.Config{TwilioAuthToken: "secret", TwilioValidateSignature: true})

	status, _ := postForm(t, env.ts.URL+"/api/voice/incoming", url.Values{"CallSid": {"CA1"}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 0, env.engine.ActiveCount())

	// Non-webhook routes are not signed.
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/healthz", nil))
}

func TestListUnits(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	var all struct {
		Units []storage.Unit `json:"units"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/units", &all))
	assert.Len(t, all.Units, 2)

	var sized struct {
		Units []storage.Unit `json:"units"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/units?size="+url.QueryEscape("10 by 10"), &sized))
	require.Len(t, sized.Units, 1)
	assert.Equal(t, "B202", sized.Units[0].UnitID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.ts.URL+"/api/units?size=huge", nil))
}

func TestReservationLifecycle(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	base := env.ts.URL + "/api/reservations"

	var created storage.Reservation
	status := postJSON(t, base, `{"unit_id":"A101","customer_phone":"+15551234567","start_date":"2025-03-01T00:00:00Z","duration_months":3}`, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, storage.StatusPending, created.Status)
	assert.InDelta(t, 149.97, created.TotalPrice, 1e-9)

	var confirmed storage.Reservation
	require.Equal(t, http.StatusOK, postJSON(t, base+"/"+created.ReservationID+"/confirm", "", &confirmed))
	assert.Equal(t, storage.StatusConfirmed, confirmed.Status)

	var fetched storage.Reservation
	require.Equal(t, http.StatusOK, getJSON(t, base+"/"+created.ReservationID, &fetched))
	assert.Equal(t, storage.StatusConfirmed, fetched.Status)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{name: "confirm twice", target: base + "/" + created.ReservationID + "/confirm", want: http.StatusConflict},
		{name: "unknown action", target: base + "/" + created.ReservationID + "/extend", want: http.StatusBadRequest},
		{name: "unknown reservation", target: base + "/R0/cancel", want: http.StatusNotFound},
		{name: "reserved unit", target: base, body: `{"unit_id":"A101","customer_phone":"+1","duration_months":1}`, want: http.StatusConflict},
		{name: "unavailable unit", target: base, body: `{"unit_id":"C303","customer_phone":"+1","duration_months":1}`, want: http.StatusConflict},
		{name: "unknown unit", target: base, body: `{"unit_id":"Z999","customer_phone":"+1","duration_months":1}`, want: http.StatusNotFound},
		{name: "invalid request", target: base, body: `{"unit_id":"B202","customer_phone":"+1","duration_months":0}`, want: http.StatusBadRequest},
		{name: "bad json", target: base, body: `{"unit_id":`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody errorResponse
			assert.Equal(t, tt.want, postJSON(t, tt.target, tt.body, &errBody))
			assert.NotEmpty(t, errBody.Code)
		})
	}
}

func TestPerfLatency(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	postForm(t, env.ts.URL+"/api/voice/process", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"what are your hours"}})

	var snap observability.TurnStageSnapshot
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/perf/latency", &snap))
	stages := map[string]int{}
	for _, s := range snap.Stages {
		stages[s.Stage] = s.Samples
	}
	assert.Equal(t, 1, stages[observability.StageUnderstand])
	assert.Equal(t, 1, stages[observability.StageTurnTotal])

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/perf/latency", nil)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestMonitorStreamsTurns(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/monitor/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(protocol.Subscribe{Type: protocol.TypeSubscribe, SessionID: "CA9"}))
	var ack protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Code)
	assert.Equal(t, 1, env.monitor.Clients())

	// Events for other calls are filtered out.
	postForm(t, env.ts.URL+"/api/voice/process", url.Values{"CallSid": {"CA8"}, "SpeechResult": {"what are your hours"}})
	postForm(t, env.ts.URL+"/api/voice/process", url.Values{"CallSid": {"CA9"}, "SpeechResult": {"I need a 10 by 10 unit"}})

	var ev protocol.TurnProcessed
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, protocol.TypeTurnProcessed, ev.Type)
	assert.Equal(t, "CA9", ev.SessionID)
	assert.Equal(t, "availability", ev.Intent)
	assert.Equal(t, 1, ev.Turn)
	require.Len(t, ev.Entities, 1)
	assert.Equal(t, "10x10", ev.Entities[0].Value)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)))
	var errEv protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEv))
	assert.Equal(t, "invalid_client_message", errEv.Code)
}
