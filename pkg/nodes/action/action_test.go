package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/flowpoint/pkg/mocks"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func request(t *testing.T, payload map[string]any) protocol.ActionRequest {
	t.Helper()

	ectx := models.NewExecutionContext("wf-1", models.IncomingEvent{TenantID: "acme", Payload: payload}, false)
	ectx.ExecutionID = "exec-1"

	return protocol.ActionRequest{NodeID: "a1", IdempotencyToken: "exec-1:a1", Context: ectx}
}

func kindOf(t *testing.T, err error) models.ErrorKind {
	t.Helper()

	var nodeErr *protocol.NodeError

	require.True(t, errors.As(err, &nodeErr), "expected a node error, got %v", err)

	return nodeErr.Kind
}

func TestNotifyAction_Execute(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n protocol.Notification) bool {
		return n.TenantID == "acme" &&
			n.Channel == "email" &&
			n.IdempotencyKey == "exec-1:a1" &&
			n.Message == "Attendance is 0.65" &&
			n.Subject == "Alert for wf-1"
	})).Return("msg-1", nil).Once()

	a, err := NewNotifyActionFactory(notifier).Create("a1", json.RawMessage(
		`{"type":"notify","channel":"email","recipients":["staff"],"subject":"Alert for {{ .execution.workflow_id }}","template":"Attendance is {{ .payload.attendance_rate }}"}`))
	require.NoError(t, err)

	out, err := a.Execute(context.Background(), request(t, map[string]any{"attendance_rate": 0.65}))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out["delivery_id"])
	notifier.AssertExpectations(t)
}

func TestNotifyAction_SimulateNeverCallsNotifier(t *testing.T) {
	notifier := &mocks.MockNotifier{}

	a, err := NewNotifyActionFactory(notifier).Create("a1", json.RawMessage(
		`{"type":"notify","channel":"sms","recipients":["+15550100"],"template":"hi"}`))
	require.NoError(t, err)

	out, err := a.Simulate(context.Background(), request(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "hi", out["message"])
	assert.Equal(t, "exec-1:a1", out["idempotency_key"])
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestNotifyAction_Errors(t *testing.T) {
	_, err := NewNotifyAction("a1", json.RawMessage(`{"type":"notify","recipients":["x"]}`), nil)
	assert.Equal(t, models.ErrorKindConfig, kindOf(t, err))

	_, err = NewNotifyAction("a1", json.RawMessage(`{"type":"notify","channel":"sms","recipients":["x"],"template":"{{ .broken"}`), nil)
	assert.Equal(t, models.ErrorKindConfig, kindOf(t, err))

	a, err := NewNotifyAction("a1", json.RawMessage(`{"type":"notify","channel":"sms","recipients":["x"]}`), nil)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), request(t, nil))
	assert.Equal(t, models.ErrorKindPermanent, kindOf(t, err))

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return("", errors.New("smtp timeout"))

	a, err = NewNotifyAction("a1", json.RawMessage(`{"type":"notify","channel":"sms","recipients":["x"]}`), notifier)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), request(t, nil))
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindTransient, protocol.Classify(err))
}

func TestCreateRecordAction(t *testing.T) {
	creator := &mocks.MockRecordCreator{}
	creator.On("CreateRecord", mock.Anything, protocol.RecordRequest{
		TenantID:       "acme",
		RecordType:     "task",
		Fields:         map[string]any{"title": "Call Ana", "priority": 2.0},
		IdempotencyKey: "exec-1:a1",
	}).Return("rec-9", nil).Once()

	a, err := NewCreateRecordActionFactory(creator).Create("a1", json.RawMessage(
		`{"type":"create_record","record_type":"task","fields":{"title":"Call {{ .payload.name }}","priority":"{{ .payload.priority }}"}}`))
	require.NoError(t, err)

	req := request(t, map[string]any{"name": "Ana", "priority": 2})

	out, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "rec-9", out["record_id"])

	simulated, err := a.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Call Ana", "priority": 2.0}, simulated["fields"])

	creator.AssertNumberOfCalls(t, "CreateRecord", 1)
}

func TestCallWebhookAction_Execute(t *testing.T) {
	var received atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Store(map[string]string{
			"method": r.Method,
			"key":    r.Header.Get(IdempotencyKeyHeader),
			"auth":   r.Header.Get("Authorization"),
			"body":   string(body),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	a, err := NewCallWebhookActionFactory(server.Client()).Create("a1", json.RawMessage(
		`{"type":"call_webhook","url":"`+server.URL+`/hooks","headers":{"Authorization":"Bearer {{ .execution.tenant_id }}"},"body":{"rate":"{{ .payload.rate }}"}}`))
	require.NoError(t, err)

	out, err := a.Execute(context.Background(), request(t, map[string]any{"rate": 0.5}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, out["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, out["json"])

	got := received.Load().(map[string]string)
	assert.Equal(t, http.MethodPost, got["method"])
	assert.Equal(t, "exec-1:a1", got["key"])
	assert.Equal(t, "Bearer acme", got["auth"])
	assert.JSONEq(t, `{"rate":0.5}`, got["body"])
}

func TestCallWebhookAction_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   models.ErrorKind
	}{
		{http.StatusInternalServerError, models.ErrorKindTransient},
		{http.StatusServiceUnavailable, models.ErrorKindTransient},
		{http.StatusTooManyRequests, models.ErrorKindTransient},
		{http.StatusBadRequest, models.ErrorKindPermanent},
		{http.StatusUnprocessableEntity, models.ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			a, err := NewCallWebhookAction("a1", json.RawMessage(`{"type":"call_webhook","url":"`+server.URL+`"}`), server.Client())
			require.NoError(t, err)

			_, err = a.Execute(context.Background(), request(t, nil))
			require.Error(t, err)
			assert.Equal(t, tt.kind, kindOf(t, err))

			var httpErr *HTTPError

			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
		})
	}
}

func TestCallWebhookAction_SimulateDoesNotSend(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	a, err := NewCallWebhookAction("a1", json.RawMessage(`{"type":"call_webhook","url":"`+server.URL+`"}`), server.Client())
	require.NoError(t, err)

	out, err := a.Simulate(context.Background(), request(t, map[string]any{"k": "v"}))
	require.NoError(t, err)
	assert.Equal(t, server.URL, out["url"])
	assert.Contains(t, out["body"], `"execution_id":"exec-1"`)
	assert.Zero(t, calls.Load())
}

func TestCallWebhookAction_InvalidURL(t *testing.T) {
	_, err := NewCallWebhookAction("a1", json.RawMessage(`{"type":"call_webhook","url":"ftp://files"}`), nil)
	assert.Equal(t, models.ErrorKindConfig, kindOf(t, err))
}

func TestLogAction(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := NewLogActionFactory(logger).Create("a1", json.RawMessage(`{"type":"log","message":"rate {{ .payload.rate }}","level":"warn"}`))
	require.NoError(t, err)

	out, err := a.Simulate(context.Background(), request(t, map[string]any{"rate": 0.9}))
	require.NoError(t, err)
	assert.Equal(t, "rate 0.9", out["message"])
	assert.Empty(t, buf.String())

	_, err = a.Execute(context.Background(), request(t, map[string]any{"rate": 0.9}))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="rate 0.9"`)
	assert.Contains(t, buf.String(), "execution_id=exec-1")

	_, err = NewLogAction("a1", json.RawMessage(`{"type":"log","message":"x","level":"loud"}`), logger)
	assert.Equal(t, models.ErrorKindConfig, kindOf(t, err))
}
