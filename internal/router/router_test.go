package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admissionhandler "github.com/jwalitptl/opd-api/internal/handler/admission"
	"github.com/jwalitptl/opd-api/internal/handler/health"
	patienthandler "github.com/jwalitptl/opd-api/internal/handler/patient"
	paymenthandler "github.com/jwalitptl/opd-api/internal/handler/payment"
	promhandler "github.com/jwalitptl/opd-api/internal/handler/prometheus"
	visithandler "github.com/jwalitptl/opd-api/internal/handler/visit"
	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	"github.com/jwalitptl/opd-api/internal/service/admission"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/consultation"
	"github.com/jwalitptl/opd-api/internal/service/encounter"
	"github.com/jwalitptl/opd-api/internal/service/event"
	"github.com/jwalitptl/opd-api/internal/service/patient"
	"github.com/jwalitptl/opd-api/internal/service/pharmacy"
	"github.com/jwalitptl/opd-api/pkg/auth"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

type testServer struct {
	engine *gin.Engine
	store  *memory.Store
	tokens auth.JWTService
	ready  error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key := make([]byte, security.KeySize)
	for i := range key {
		key[i] = byte(i + 7)
	}
	cipher, err := security.NewFieldCipher(key)
	require.NoError(t, err)
	tokens, err := auth.NewJWTService("router-test-secret", "opd-api")
	require.NoError(t, err)

	store := memory.NewStore()
	store.AddClinician(model.Clinician{ID: 1, FullName: "Dr. Reyes", Role: model.RoleDoctor, Specialty: "general", Active: true})
	store.AddClinician(model.Clinician{ID: 2, FullName: "Dr. Santos", Role: model.RoleDoctor, Specialty: "general", Active: true})

	reg := metrics.NewRegistry()
	m := metrics.NewMetrics(reg, "opd")
	log := logger.Nop()
	cipher.Instrument(m, log)
	v := validator.New()
	auditor := audit.NewService(store.Audit())
	events := event.NewEmitter(store.Outbox())

	patients := patient.NewService(store, store.Records(), store.Notes(), cipher, auditor, v)
	billingSvc := billing.NewService(store, store.Payments(), auditor, events, v, log, m)
	admissions := admission.NewService(store, store.Encounters(), store.Admissions(), store.InpatientPatients(),
		billingSvc, cipher, auditor, events, v, log, m)
	encounters := encounter.NewService(store, store.Encounters(), store.Clinicians(), patients, billingSvc, admissions,
		cipher, auditor, events, v, log, m, encounter.Options{SingleActiveConsultation: true})
	consultations := consultation.NewService(store, encounters, billingSvc, admissions, patients,
		pharmacy.NewService(store.Medicines()), cipher, auditor, events, v, log, m)

	ts := &testServer{store: store, tokens: tokens}
	healthH := health.NewHandler(map[string]health.Pinger{
		"database": health.PingFunc(func(context.Context) error { return ts.ready }),
	})

	r := NewRouter(
		middleware.NewAuthMiddleware(tokens),
		healthH,
		promhandler.New(reg),
		[]Handler{
			visithandler.NewHandler(encounters, consultations),
			paymenthandler.NewHandler(billingSvc),
			admissionhandler.NewHandler(admissions),
			patienthandler.NewHandler(patients),
		},
		log,
		m,
		RouterConfig{
			Timeout:      5 * time.Second,
			RateEnabled:  false,
			MaxBodyBytes: 1 << 20,
			CORSConfig:   middleware.DefaultCORSConfig(nil),
		},
	)
	ts.engine = r.Engine()
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (ts *testServer) do(t *testing.T, actor *model.Actor, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := ts.tokens.GenerateToken(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

var (
	doctor    = model.Actor{UserID: 1, Role: model.RoleDoctor}
	otherDoc  = model.Actor{UserID: 2, Role: model.RoleDoctor}
	reception = model.Actor{UserID: 10, Role: model.RoleReceptionist}
	cashier   = model.Actor{UserID: 11, Role: model.RoleCashier}
)

func TestVisitLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, &reception, http.MethodPost, "/api/v1/visits", map[string]interface{}{
		"patient_name":   "Gabriela Silang",
		"contact_number": "0917-555-0199",
		"symptoms":       "cough",
		"visit_type":     "new",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var visit model.Encounter
	require.NoError(t, json.Unmarshal(env.Data, &visit))
	assert.Equal(t, "Gabriela Silang", visit.PatientName)
	assert.Equal(t, model.VisitStatusWaiting, visit.VisitStatus)
	base := "/api/v1/visits/" + strconv.FormatInt(visit.ID, 10)

	w, _ = ts.do(t, &doctor, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = ts.do(t, &otherDoc, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, http.StatusConflict, env.Error.Code)

	w, env = ts.do(t, &doctor, http.MethodPost, base+"/complete", map[string]interface{}{
		"diagnosis":          "Acute bronchitis",
		"treatment_plan":     "Rest and fluids",
		"admission_decision": "none",
		"fee_amount":         150.00,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result model.ConsultationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotNil(t, result.PaymentEntryID)
	assert.Nil(t, result.AdmissionID)

	payPath := "/api/v1/payments/" + strconv.FormatInt(*result.PaymentEntryID, 10) + "/pay"
	w, env = ts.do(t, &cashier, http.MethodPost, payPath, map[string]interface{}{"tendered_amount": 200.00})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var receipt model.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, "50.00", receipt.Change.String())

	w, _ = ts.do(t, &cashier, http.MethodPost, payPath, map[string]interface{}{"tendered_amount": 200.00})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = ts.do(t, &reception, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var details model.EncounterDetails
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.Equal(t, "Acute bronchitis", details.Diagnosis)
	require.NotNil(t, details.Payment)
	assert.Equal(t, model.PaymentStatusPaid, details.Payment.PaymentStatus)

	notesPath := "/api/v1/patient-records/" + strconv.FormatInt(result.PatientRecordID, 10) + "/notes"
	w, env = ts.do(t, &doctor, http.MethodGet, notesPath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var notes []model.ProgressNote
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	assert.Len(t, notes, 1)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.store.PutVisit(model.Encounter{
		ID:          7,
		PatientName: "Andres Bonifacio",
		VisitType:   model.VisitTypeNew,
		VisitStatus: model.VisitStatusWaiting,
		ArrivalTime: time.Now().UTC(),
	})

	tests := []struct {
		name   string
		actor  *model.Actor
		method string
		path   string
		body   interface{}
		status int
	}{
		{"missing token", nil, http.MethodGet, "/api/v1/visits/7", nil, http.StatusUnauthorized},
		{"malformed id", &reception, http.MethodGet, "/api/v1/visits/abc", nil, http.StatusBadRequest},
		{"unknown visit", &reception, http.MethodGet, "/api/v1/visits/999", nil, http.StatusNotFound},
		{"cashier reads visit", &cashier, http.MethodGet, "/api/v1/visits/999", nil, http.StatusForbidden},
		{"cashier lists queue", &cashier, http.MethodGet, "/api/v1/visits", nil, http.StatusForbidden},
		{"cashier reads notes", &cashier, http.MethodGet, "/api/v1/patient-records/1/notes", nil, http.StatusForbidden},
		{"cashier cannot start", &cashier, http.MethodPost, "/api/v1/visits/7/start", nil, http.StatusForbidden},
		{"invalid visit type", &reception, http.MethodPost, "/api/v1/visits",
			map[string]interface{}{"patient_name": "X", "visit_type": "walk_in"}, http.StatusUnprocessableEntity},
		{"bad queue date", &reception, http.MethodGet, "/api/v1/visits?date=17-10-2026", nil, http.StatusBadRequest},
		{"complete while waiting", &doctor, http.MethodPost, "/api/v1/visits/7/complete",
			map[string]interface{}{"diagnosis": "d", "treatment_plan": "t", "admission_decision": "none"}, http.StatusConflict},
		{"unknown admission", &doctor, http.MethodPost, "/api/v1/admissions/5/status",
			map[string]interface{}{"status": "admitted"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := ts.do(t, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.status, env.Error.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))
		})
	}
}

func TestQueueListsOpenVisits(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()
	for id, status := range map[int64]model.VisitStatus{
		1: model.VisitStatusWaiting,
		2: model.VisitStatusInProgress,
		3: model.VisitStatusCancelled,
	} {
		ts.store.PutVisit(model.Encounter{ID: id, PatientName: "p", VisitType: model.VisitTypeNew, VisitStatus: status, ArrivalTime: now})
	}

	w, env := ts.do(t, &reception, http.MethodGet, "/api/v1/visits?date="+now.Format("2006-01-02"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var queue []model.Encounter
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	assert.Len(t, queue, 2)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.ready = errors.New("connection refused")
	w, _ = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"DOWN"`)

	w, _ = ts.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "opd_http_requests_total")
}

func TestMetricsExposeRuntimeAndCipherFallbacks(t *testing.T) {
	ts := newTestServer(t)
	doctor := model.Actor{UserID: 1, Role: model.RoleDoctor}

	ts.store.PutVisit(model.Encounter{
		ID:          77,
		PatientName: "legacy plaintext name",
		VisitType:   model.VisitTypeNew,
		VisitStatus: model.VisitStatusWaiting,
		ArrivalTime: time.Now().UTC(),
	})
	w, env := ts.do(t, &doctor, http.MethodGet, "/api/v1/visits/77", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "legacy plaintext name")

	w, _ = ts.do(t, nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Regexp(t, `(?m)^opd_field_cipher_plaintext_reads_total [1-9]`, body)
	assert.Contains(t, body, "opd_field_cipher_double_encrypted_reads_total 0")
}
