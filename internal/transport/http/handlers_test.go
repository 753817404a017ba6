package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dealguard/internal/ai"
	"dealguard/internal/contracts"
	"dealguard/internal/document"
	jwttoken "dealguard/internal/jwt_token"
	"dealguard/internal/proactive"
	"dealguard/internal/queue"
	"dealguard/pkg/crypto"
	id "dealguard/pkg/domain"
	"dealguard/pkg/requestcontext"
)

type fakeProvider struct {
	content string
}

func (f fakeProvider) Invoke(context.Context, ai.Request) (*ai.Response, error) {
	return &ai.Response{Content: f.content, Model: "test-model"}, nil
}

type fixture struct {
	server    *httptest.Server
	tokens    *jwttoken.JWTService
	contracts *contracts.Service
	deadlines *proactive.DeadlineService
	alerts    *proactive.AlertService
	proStore  *proactive.InMemoryStore
	tenantID  id.TenantID
	token     string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher, err := crypto.New("handler-test-9c1f2a7d4e8b3f6a")
	require.NoError(t, err)

	queueStore := queue.NewInMemoryStore()
	gateway := queue.NewGateway(queueStore, 3, testLogger(), nil)

	contractStore := contracts.NewInMemoryStore()
	contractSvc := contracts.NewService(
		contractStore,
		document.NewFileExtractor(),
		cipher,
		gateway,
		fakeProvider{content: "{}"},
		testLogger(),
	)

	proStore := proactive.NewInMemoryStore()
	deadlineSvc := proactive.NewDeadlineService(proStore, contractSvc, fakeProvider{content: "[]"}, testLogger())
	alertSvc := proactive.NewAlertService(proStore, proStore, []int{30, 14, 7}, testLogger(), nil)
	riskSvc := proactive.NewRiskService(contractStore, proStore, proStore, proStore, proStore, testLogger(), nil)

	tokens := jwttoken.NewJWTService("handler-test-signing-key")
	handler := NewHandler(contractSvc, deadlineSvc, alertSvc, riskSvc, gateway, testLogger())
	server := httptest.NewServer(handler.Router(jwttoken.ValidatorAdapter{Service: tokens}))
	t.Cleanup(server.Close)

	tenantID := id.NewTenantID()
	token, err := tokens.GenerateToken(tenantID, id.NewUserID(), time.Hour)
	require.NoError(t, err)

	return &fixture{
		server:    server,
		tokens:    tokens,
		contracts: contractSvc,
		deadlines: deadlineSvc,
		alerts:    alertSvc,
		proStore:  proStore,
		tenantID:  tenantID,
		token:     token,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func multipartUpload(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (f *fixture) uploadContract(t *testing.T, filename, content string) (contractID, jobID string) {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content)
	resp := f.do(t, http.MethodPost, "/api/v1/contracts", body, contentType)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	decode(t, resp, &out)
	return out["contract_id"], out["job_id"]
}

func TestUploadContractAcceptsAndEnqueues(t *testing.T) {
	f := newFixture(t)

	contractID, jobID := f.uploadContract(t, "msa.txt", "This agreement is made between the parties.")
	require.NotEmpty(t, contractID)
	require.NotEmpty(t, jobID)

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job jobView
	decode(t, resp, &job)
	require.Equal(t, "analyze_contract", job.Kind)
	require.Equal(t, "pending", job.Status)
	require.Equal(t, contractID, job.EntityID)
}

func TestUploadDuplicateReturnsExistingContract(t *testing.T) {
	f := newFixture(t)

	first, _ := f.uploadContract(t, "msa.txt", "Identical contract body.")

	body, contentType := multipartUpload(t, "renamed.txt", "Identical contract body.")
	resp := f.do(t, http.MethodPost, "/api/v1/contracts", body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	decode(t, resp, &out)
	require.Equal(t, first, out["contract_id"])
	require.Empty(t, out["job_id"])
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t)

	body, contentType := multipartUpload(t, "contract.docx", "binary-ish")
	resp := f.do(t, http.MethodPost, "/api/v1/contracts", body, contentType)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/v1/contracts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzNeedsNoToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetContractReturnsDetail(t *testing.T) {
	f := newFixture(t)

	contractID, _ := f.uploadContract(t, "nda.txt", "Confidential information shall not be disclosed.")

	resp := f.do(t, http.MethodGet, "/api/v1/contracts/"+contractID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail contractDetail
	decode(t, resp, &detail)
	require.Equal(t, contractID, detail.ID)
	require.Equal(t, "nda.txt", detail.Filename)
	require.Equal(t, "pending", detail.Status)
	require.Nil(t, detail.Analysis, "no analysis before the job runs")
}

func TestGetContractUnknownIDIs404(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/contracts/"+id.NewContractID().String(), nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetContractMalformedIDIs400(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/contracts/not-a-uuid", nil, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListContractsPaginates(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.uploadContract(t, fmt.Sprintf("c%d.txt", i), fmt.Sprintf("contract body %d", i))
	}

	resp := f.do(t, http.MethodGet, "/api/v1/contracts?limit=2", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page pageView[contractView]
	decode(t, resp, &page)
	require.Len(t, page.Items, 2)
	require.Equal(t, 3, page.Total)
	require.True(t, page.HasMore)

	resp = f.do(t, http.MethodGet, "/api/v1/contracts?limit=2&offset=2", nil, "")
	decode(t, resp, &page)
	require.Len(t, page.Items, 1)
	require.False(t, page.HasMore)
}

func TestAnalyzeIsIdempotentWhileJobInFlight(t *testing.T) {
	f := newFixture(t)

	contractID, jobID := f.uploadContract(t, "msa.txt", "agreement body")

	resp := f.do(t, http.MethodPost, "/api/v1/contracts/"+contractID+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decode(t, resp, &out)
	require.Equal(t, jobID, out["job_id"])
	require.Equal(t, true, out["existing"])
}

func TestDeadlineLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := requestcontext.WithTenantID(context.Background(), f.tenantID)

	contractID, err := id.ParseContractID(firstUpload(t, f))
	require.NoError(t, err)

	deadline := &proactive.ContractDeadline{
		ID:           id.NewDeadlineID(),
		TenantID:     f.tenantID,
		ContractID:   contractID,
		Type:         proactive.DeadlineTerminationNotice,
		Date:         time.Now().AddDate(0, 2, 0),
		Confidence:   0.9,
		Status:       proactive.DeadlineActive,
		ReminderDays: 30,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, f.proStore.ReplaceUnverified(ctx, f.tenantID, contractID, []*proactive.ContractDeadline{deadline}))

	resp := f.do(t, http.MethodGet, "/api/v1/contracts/"+contractID.String()+"/deadlines", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Items []deadlineView `json:"items"`
	}
	decode(t, resp, &listing)
	require.Len(t, listing.Items, 1)
	require.False(t, listing.Items[0].IsVerified)

	verifyBody := strings.NewReader(`{"corrected_date": "2026-11-15"}`)
	resp = f.do(t, http.MethodPost, "/api/v1/deadlines/"+deadline.ID.String()+"/verify", verifyBody, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verified deadlineView
	decode(t, resp, &verified)
	require.True(t, verified.IsVerified)
	require.Equal(t, "2026-11-15", verified.Date)

	resp = f.do(t, http.MethodPost, "/api/v1/deadlines/"+deadline.ID.String()+"/handle", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Handled is terminal; a dismiss afterwards conflicts.
	resp = f.do(t, http.MethodPost, "/api/v1/deadlines/"+deadline.ID.String()+"/dismiss", nil, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func firstUpload(t *testing.T, f *fixture) string {
	t.Helper()
	contractID, _ := f.uploadContract(t, "base.txt", "contract under deadline review")
	return contractID
}

func (f *fixture) seedAlert(t *testing.T) alertView {
	t.Helper()
	ctx := requestcontext.WithTenantID(context.Background(), f.tenantID)

	contractID, err := id.ParseContractID(firstUpload(t, f))
	require.NoError(t, err)

	deadline := &proactive.ContractDeadline{
		ID:         id.NewDeadlineID(),
		TenantID:   f.tenantID,
		ContractID: contractID,
		Type:       proactive.DeadlinePaymentDue,
		Date:       time.Now().AddDate(0, 0, 5),
		Confidence: 0.8,
		Status:     proactive.DeadlineActive,
	}
	require.NoError(t, f.proStore.ReplaceUnverified(ctx, f.tenantID, contractID, []*proactive.ContractDeadline{deadline}))

	_, err = f.alerts.EvaluateDeadlines(ctx)
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/v1/alerts", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page pageView[alertView]
	decode(t, resp, &page)
	require.Len(t, page.Items, 1)
	return page.Items[0]
}

func TestAlertListAndLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	alert := f.seedAlert(t)
	require.Equal(t, "new", alert.Status)
	require.Equal(t, "warning", alert.Severity)

	resp := f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/seen", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var seen alertView
	decode(t, resp, &seen)
	require.Equal(t, "seen", seen.Status)

	statusBody := strings.NewReader(`{"status": "resolved"}`)
	resp = f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/status", statusBody, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Resolved is terminal.
	statusBody = strings.NewReader(`{"status": "in_progress"}`)
	resp = f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/status", statusBody, "application/json")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSnoozedAlertHiddenFromDefaultListing(t *testing.T) {
	f := newFixture(t)
	alert := f.seedAlert(t)

	until := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	snoozeBody := strings.NewReader(`{"until": "` + until + `"}`)
	resp := f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/snooze", snoozeBody, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/alerts", nil, "")
	var page pageView[alertView]
	decode(t, resp, &page)
	require.Empty(t, page.Items)

	resp = f.do(t, http.MethodGet, "/api/v1/alerts?include_all=true", nil, "")
	decode(t, resp, &page)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].SnoozedUntil)
}

func TestAlertStatusRequiresBody(t *testing.T) {
	f := newFixture(t)
	alert := f.seedAlert(t)

	resp := f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/status", strings.NewReader(`{}`), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRiskRadarOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.seedAlert(t)

	resp := f.do(t, http.MethodGet, "/api/v1/risk/radar", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var radar proactive.RiskRadar
	decode(t, resp, &radar)
	require.Equal(t, 1, radar.PendingDeadlines)
	require.Equal(t, 1, radar.OpenAlerts)
	require.NotEmpty(t, radar.RiskLevel)
}

func TestRiskSignalIngestionOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/v1/risk/signals/partners",
		strings.NewReader(`{"score": 80}`), "application/json")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/risk/radar", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var radar proactive.RiskRadar
	decode(t, resp, &radar)
	require.Equal(t, 80, radar.PartnersScore)

	resp = f.do(t, http.MethodPut, "/api/v1/risk/signals/weather",
		strings.NewReader(`{"score": 10}`), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/risk/signals/partners",
		strings.NewReader(`{}`), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
