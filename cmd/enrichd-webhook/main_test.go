package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/enrichd/internal/config"
	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
	"github.com/fyrsmithlabs/enrichd/internal/worker"
)

const testSecret = "webhook-test-secret"

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestWebhookServer(t *testing.T) (*WebhookServer, *nats.Conn) {
	t.Helper()
	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	publisher, err := worker.NewPublisher(nc, "enrichd.jobs", nil)
	require.NoError(t, err)

	return &WebhookServer{
		publisher:     publisher,
		webhookSecret: config.Secret(testSecret),
		logger:        logging.NewNop(),
	}, nc
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postEvent(t *testing.T, srv *WebhookServer, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	return rec
}

func ticketCreatedPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event":    "ticket.created",
		"tenantId": "acme",
		"ticket": map[string]string{
			"id":          "TKT-77",
			"description": "Checkout fails intermittently",
			"priority":    "high",
		},
	})
	require.NoError(t, err)
	return payload
}

func TestValidSignature(t *testing.T) {
	payload := []byte(`{"event":"ticket.created"}`)

	assert.True(t, validSignature(payload, sign(payload, testSecret), []byte(testSecret)))
	assert.False(t, validSignature(payload, sign(payload, "wrong-secret"), []byte(testSecret)))
	assert.False(t, validSignature(payload, "sha256=nothex", []byte(testSecret)))
	assert.False(t, validSignature(payload, "missing-prefix", []byte(testSecret)))
	assert.False(t, validSignature(payload, "", []byte(testSecret)))
}

func TestHandleWebhook_QueuesJob(t *testing.T) {
	srv, nc := newTestWebhookServer(t)

	jobCh := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("enrichd.jobs", jobCh)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	payload := ticketCreatedPayload(t)
	rec := postEvent(t, srv, payload, sign(payload, testSecret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	select {
	case msg := <-jobCh:
		var job pipeline.EnhancementJob
		require.NoError(t, json.Unmarshal(msg.Data, &job))
		assert.Equal(t, "acme", job.TenantID)
		assert.Equal(t, "TKT-77", job.TicketID)
		assert.Equal(t, pipeline.PriorityHigh, job.Priority)
		assert.False(t, job.SubmittedAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("job was not published")
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	srv, _ := newTestWebhookServer(t)

	payload := ticketCreatedPayload(t)
	rec := postEvent(t, srv, payload, sign(payload, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	srv, nc := newTestWebhookServer(t)

	jobCh := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("enrichd.jobs", jobCh)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	payload := []byte(`{"event":"ticket.deleted","tenantId":"acme","ticket":{"id":"TKT-1"}}`)
	rec := postEvent(t, srv, payload, sign(payload, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-jobCh:
		t.Fatal("unexpected job published for ignored event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandleWebhook_RejectsMalformedTicket(t *testing.T) {
	srv, _ := newTestWebhookServer(t)

	// Missing tenant ID fails job validation.
	payload := []byte(`{"event":"ticket.created","ticket":{"id":"TKT-1","description":"x"}}`)
	rec := postEvent(t, srv, payload, sign(payload, testSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestWebhookServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}
