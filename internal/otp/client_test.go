// ABOUTME: Tests for the verification client and bridge handlers.
// ABOUTME: Uses a fake verify service to cover start, check, and error paths.

package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifyService records requests and plays back canned responses for the
// verify REST endpoints.
type fakeVerifyService struct {
	t *testing.T

	startStatus int
	checkStatus int
	checkBody   string

	lastTo      string
	lastChannel string
	lastCode    string
}

func (f *fakeVerifyService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/Services/VA123/Verifications", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		f.lastTo = r.FormValue("To")
		f.lastChannel = r.FormValue("Channel")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.startStatus)
		_, _ = w.Write([]byte(`{"sid": "VE1", "status": "pending"}`))
	})
	mux.HandleFunc("/v2/Services/VA123/VerificationChecks", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		f.lastTo = r.FormValue("To")
		f.lastCode = r.FormValue("Code")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.checkStatus)
		_, _ = w.Write([]byte(f.checkBody))
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeVerifyService) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "VA123", "test-key", slog.Default())
}

func TestClientStartSendsWhatsAppChannel(t *testing.T) {
	fake := &fakeVerifyService{t: t, startStatus: http.StatusOK}
	client := newTestClient(t, fake)

	status, err := client.Start(context.Background(), "+5491155550001")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, status)
	assert.Equal(t, "+5491155550001", fake.lastTo)
	assert.Equal(t, "whatsapp", fake.lastChannel)
}

func TestClientStartServiceError(t *testing.T) {
	fake := &fakeVerifyService{t: t, startStatus: http.StatusInternalServerError}
	client := newTestClient(t, fake)

	_, err := client.Start(context.Background(), "+5491155550001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyUnavailable)
}

func TestClientCheckApproved(t *testing.T) {
	fake := &fakeVerifyService{
		t:           t,
		checkStatus: http.StatusOK,
		checkBody:   `{"sid": "VE1", "status": "approved", "valid": true}`,
	}
	client := newTestClient(t, fake)

	approved, err := client.Check(context.Background(), "+5491155550001", "123456")
	require.NoError(t, err)

	assert.True(t, approved)
	assert.Equal(t, "123456", fake.lastCode)
}

func TestClientCheckWrongCodeIsNotAnError(t *testing.T) {
	fake := &fakeVerifyService{
		t:           t,
		checkStatus: http.StatusOK,
		checkBody:   `{"sid": "VE1", "status": "pending", "valid": false}`,
	}
	client := newTestClient(t, fake)

	approved, err := client.Check(context.Background(), "+5491155550001", "000000")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestClientCheckConsumedCodeReturnsFalse(t *testing.T) {
	fake := &fakeVerifyService{
		t:           t,
		checkStatus: http.StatusNotFound,
		checkBody:   `{"code": 20404}`,
	}
	client := newTestClient(t, fake)

	approved, err := client.Check(context.Background(), "+5491155550001", "123456")
	require.NoError(t, err)
	assert.False(t, approved)
}

// stubVerifier lets handler tests control verifier outcomes directly.
type stubVerifier struct {
	startStatus VerificationStatus
	startErr    error
	approved    bool
	checkErr    error
}

func (s *stubVerifier) Start(_ context.Context, _ string) (VerificationStatus, error) {
	return s.startStatus, s.startErr
}

func (s *stubVerifier) Check(_ context.Context, _, _ string) (bool, error) {
	return s.approved, s.checkErr
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleStartRequiresPhoneNumber(t *testing.T) {
	h := NewHandlers(&stubVerifier{}, slog.Default())

	rec := postJSON(t, h.HandleStart, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp StartVerificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "El número de teléfono es requerido.", resp.Error)
}

func TestHandleStartSuccess(t *testing.T) {
	h := NewHandlers(&stubVerifier{startStatus: StatusPending}, slog.Default())

	rec := postJSON(t, h.HandleStart, `{"phoneNumber": "+5491155550001"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StartVerificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pending", resp.Status)
}

func TestHandleStartServiceDown(t *testing.T) {
	h := NewHandlers(&stubVerifier{startErr: ErrVerifyUnavailable}, slog.Default())

	rec := postJSON(t, h.HandleStart, `{"phoneNumber": "+5491155550001"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleCheckRequiresBothFields(t *testing.T) {
	h := NewHandlers(&stubVerifier{}, slog.Default())

	for _, body := range []string{`{}`, `{"phoneNumber": "+549115"}`, `{"code": "123456"}`} {
		rec := postJSON(t, h.HandleCheck, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp CheckVerificationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "El número de teléfono y el código son requeridos.", resp.Error)
	}
}

func TestHandleCheckWrongCode(t *testing.T) {
	h := NewHandlers(&stubVerifier{approved: false}, slog.Default())

	rec := postJSON(t, h.HandleCheck, `{"phoneNumber": "+5491155550001", "code": "000000"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp CheckVerificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.False(t, resp.Approved)
	assert.Equal(t, "Código incorrecto o no válido.", resp.Message)
}

func TestHandleCheckApproved(t *testing.T) {
	h := NewHandlers(&stubVerifier{approved: true}, slog.Default())

	rec := postJSON(t, h.HandleCheck, `{"phoneNumber": "+5491155550001", "code": "123456"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CheckVerificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Approved)
}
