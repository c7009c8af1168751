package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engiero/internal/auth"
	"engiero/internal/engie"
	"engiero/internal/snapshot"
)

// fakeUpstream serves canned responses per path prefix and counts calls.
type fakeUpstream struct {
	mu        sync.Mutex
	calls     map[string]int
	overrides map[string]http.HandlerFunc
	tokens    []string
	logins    int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		calls:     map[string]int{},
		overrides: map[string]http.HandlerFunc{},
		tokens:    []string{"T1", "T2", "T3"},
	}
}

func (f *fakeUpstream) on(route string, fn http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[route] = fn
}

func (f *fakeUpstream) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	route := routeOf(r.URL.Path)
	f.calls[route]++
	override := f.overrides[route]
	f.mu.Unlock()

	if override != nil {
		override(w, r)
		return
	}

	switch route {
	case engie.PathMobileLogin:
		f.mu.Lock()
		token := f.tokens[f.logins%len(f.tokens)]
		f.logins++
		f.mu.Unlock()
		writeJSON(w, map[string]any{"data": map[string]any{"token": token, "exp": 3600}})
	case engie.PathUserMe:
		writeJSON(w, map[string]any{"data": map[string]any{"email": "u@x.ro", "name": "Ion Pop"}})
	case engie.PathPlaces:
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{"poc_number": "5001", "contract_account": "PA1", "division": "gaz", "installation_number": "4001234567"},
			map[string]any{"POC": "5002", "ContractAccount": "PA2", "energietyp": "electricitate"},
		}})
	case engie.PathDivisions:
		writeJSON(w, map[string]any{"data": []any{map[string]any{"division": "gaz"}}})
	case engie.PathIndex:
		writeJSON(w, map[string]any{"data": map[string]any{"startDate": "2025-06-20", "endDate": "2025-06-28", "index": "1234,5"}})
	case engie.PathBalance:
		writeJSON(w, map[string]any{"data": map[string]any{"total": "150,25", "unpaid": "150,25"}})
	case engie.PathInvoiceDetails:
		writeJSON(w, map[string]any{"data": map[string]any{"invoices": []any{
			map[string]any{"invoice_id": "F1", "InvoiceDate": "2025-05-01", "value": "100,25", "unpaid": "100,25"},
			map[string]any{"invoice_id": "F2", "InvoiceDate": "2025-04-01", "value": "50", "unpaid": 50},
		}}})
	case engie.PathConsumption:
		writeJSON(w, map[string]any{"data": []any{map[string]any{"luna": "2025-05", "consum": "12,5"}}})
	case engie.PathIndexHistory:
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{"date": "2025-03-01", "index": 1200},
			map[string]any{"date": "bad", "index": 9999},
			map[string]any{"date": "01.05.2025", "index": "1234,5"},
		}})
	case engie.PathInvoiceHistory:
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{"invoice_id": "F1", "InvoiceDate": "2025-05-01", "luna": "Mai 2025", "value": 100.25},
			map[string]any{"invoice_id": "F0", "InvoiceDate": "2024-12-01", "luna": "Decembrie 2024", "value": 80},
		}})
	case engie.PathAppStatus:
		w.Write([]byte("OK"))
	default:
		http.NotFound(w, r)
	}
}

// routeOf maps a request path to its endpoint constant.
func routeOf(path string) string {
	for _, prefix := range []string{engie.PathDivisions, engie.PathConsumption, engie.PathInvoiceHistory} {
		if strings.HasPrefix(path, prefix) {
			return prefix
		}
	}
	if strings.HasPrefix(path, engie.PathIndex) && path != engie.PathIndexHistory {
		return engie.PathIndex
	}
	return path
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	upstream *fakeUpstream
	client   *engie.Client
	tokens   *auth.Manager
	orch     *Orchestrator
	failures map[string]int
}

func newHarness(t *testing.T, cfg auth.Config, now time.Time, opts ...engie.Option) *harness {
	t.Helper()
	upstream := newFakeUpstream()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	opts = append([]engie.Option{engie.WithMinGap(0), engie.WithLogger(testLogger())}, opts...)
	client := engie.NewClient(server.URL, opts...)
	t.Cleanup(func() { client.Close() })

	store := auth.NewFileStore(filepath.Join(t.TempDir(), "token.json"))
	clock := func() time.Time { return now }
	tokens := auth.NewManager(cfg, client, store, auth.WithClock(clock), auth.WithLogger(testLogger()))

	h := &harness{upstream: upstream, client: client, tokens: tokens, failures: map[string]int{}}
	h.orch = New(tokens, client, Config{},
		WithClock(clock),
		WithLogger(testLogger()),
		WithSectionHook(func(section string, err error) { h.failures[section]++ }))
	return h
}

func mobileConfig() auth.Config {
	return auth.Config{Mode: auth.ModeMobileLogin, Username: "u@x.ro", Password: "p", DeviceID: "dev"}
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestRefresh_HappyPath(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "T1", snap.Token)
	assert.Equal(t, "mobile_login", snap.AuthMode)
	assert.Equal(t, "u@x.ro", snap.User["email"])
	require.Len(t, snap.Places, 2)
	assert.Equal(t, "5002", snap.Places[1]["poc"])
	assert.Equal(t, "PA2", snap.Places[1]["pa"])
	assert.Equal(t, "5001", snap.Account["poc"])
	assert.Len(t, snap.Divisions, 1)
	assert.Equal(t, 1234.5, snap.IndexWindow["last_index"])
	assert.Equal(t, 150.25, snap.Balance["total"])
	assert.Len(t, snap.Invoices, 2)
	assert.Len(t, snap.Consumption, 1)
	assert.Equal(t, 12.5, snap.Consumption[0]["value"])
	assert.Len(t, snap.IndexHistory, 3)
	assert.InDelta(t, 150.25, snap.UnpaidTotal, 1e-9)
	require.Len(t, snap.InvoicesCurrentYear, 1)
	assert.Equal(t, "F1", snap.InvoicesCurrentYear[0]["id"])
	require.Len(t, snap.InvoicesPriorYear, 1)
	assert.Equal(t, "F0", snap.InvoicesPriorYear[0]["id"])
	assert.Equal(t, 1234.5, snap.LatestIndex["value"])
	assert.Equal(t, "F1", snap.LatestInvoice["id"])
	assert.Empty(t, snap.Errors)
	assert.True(t, h.orch.HasSucceeded())
	assert.Equal(t, 1, h.upstream.count(engie.PathMobileLogin))
}

func TestRefresh_IndexQueryCarriesIdentifiers(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	var query atomic.Value
	h.upstream.on(engie.PathIndex, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Encode())
		writeJSON(w, map[string]any{"data": map[string]any{}})
	})

	_, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "division=gaz&installation_number=4001234567&pa=PA1", query.Load())
}

func TestRefresh_DivisionsFailureIsContained(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathDivisions, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Divisions)
	assert.NotNil(t, snap.Divisions)
	assert.Equal(t, "u@x.ro", snap.User["email"])
	assert.Len(t, snap.Places, 2)
	assert.Contains(t, snap.Errors[snapshot.SectionDivisions], "500")
	assert.Equal(t, 1, h.failures[snapshot.SectionDivisions])
	assert.Len(t, snap.Invoices, 2)

	m, err := snap.Map()
	require.NoError(t, err)
	for _, key := range snapshot.Keys() {
		assert.Contains(t, m, key)
		assert.NotNil(t, m[key], key)
	}
}

func TestRefresh_AllSectionsFailing(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	fail := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }
	for _, p := range []string{engie.PathDivisions, engie.PathIndex, engie.PathBalance, engie.PathInvoiceDetails,
		engie.PathConsumption, engie.PathIndexHistory, engie.PathInvoiceHistory} {
		h.upstream.on(p, fail)
	}

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Errors, 7)
	assert.Equal(t, 0.0, snap.UnpaidTotal)
	assert.Contains(t, snap.LatestIndex, "value")
	// balance and invoice details each try both request shapes
	assert.Equal(t, 2, h.upstream.count(engie.PathBalance))
	assert.Equal(t, 2, h.upstream.count(engie.PathInvoiceDetails))
}

func TestRefresh_PlacesFailureFailsCycle(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathPlaces, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	snap, err := h.orch.Refresh(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, ErrDiscovery)
	assert.False(t, h.orch.HasSucceeded())
}

func TestRefresh_ProfileFailureFatalOnlyBeforeFirstSuccess(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	var failing atomic.Bool
	failing.Store(true)
	h.upstream.on(engie.PathUserMe, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"email": "u@x.ro"})
	})

	_, err := h.orch.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrProfile)

	failing.Store(false)
	_, err = h.orch.Refresh(context.Background())
	require.NoError(t, err)

	failing.Store(true)
	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.Errors, snapshot.SectionUser)
	assert.Equal(t, "", snap.User["email"])
}

func TestRefresh_401TriggersSingleReloginAndRetry(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathBalance, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"total": "10"}})
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Balance["total"])
	assert.Equal(t, "T2", snap.Token)
	assert.Equal(t, 2, h.upstream.count(engie.PathMobileLogin))
	assert.Equal(t, 2, h.upstream.count(engie.PathBalance))
	assert.NotContains(t, snap.Errors, snapshot.SectionBalance)
}

func TestRefresh_Persistent401GivesUpOnSection(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathConsumption, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.upstream.count(engie.PathConsumption))
	assert.Contains(t, snap.Errors, snapshot.SectionConsumption)
	assert.Len(t, snap.Invoices, 2)
}

func TestRefresh_FailedReloginAbortsCycle(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	var logins atomic.Int32
	h.upstream.on(engie.PathMobileLogin, func(w http.ResponseWriter, r *http.Request) {
		if logins.Add(1) == 1 {
			writeJSON(w, map[string]any{"data": map[string]any{"token": "T1", "exp": 3600}})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	unauthorized := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }
	for _, p := range []string{engie.PathDivisions, engie.PathIndex, engie.PathBalance, engie.PathInvoiceDetails,
		engie.PathConsumption, engie.PathIndexHistory, engie.PathInvoiceHistory} {
		h.upstream.on(p, unauthorized)
	}

	snap, err := h.orch.Refresh(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, ErrReauth)
	assert.NotErrorIs(t, err, auth.ErrReauthRequired)
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, 1, h.upstream.count(engie.PathDivisions))
	assert.Equal(t, 0, h.upstream.count(engie.PathIndex))
	assert.Equal(t, 0, h.upstream.count(engie.PathBalance))
	assert.False(t, h.orch.HasSucceeded())
}

func TestRefresh_RejectedReloginIsReauthRequired(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	var logins atomic.Int32
	h.upstream.on(engie.PathMobileLogin, func(w http.ResponseWriter, r *http.Request) {
		if logins.Add(1) == 1 {
			writeJSON(w, map[string]any{"data": map[string]any{"token": "T1", "exp": 3600}})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	h.upstream.on(engie.PathBalance, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := h.orch.Refresh(context.Background())
	assert.ErrorIs(t, err, auth.ErrReauthRequired)
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, 0, h.upstream.count(engie.PathInvoiceDetails))
}

func TestRefresh_Bearer401IsReauthRequired(t *testing.T) {
	h := newHarness(t, auth.Config{Mode: auth.ModeBearer, BearerToken: "BT"}, testNow)
	h.upstream.on(engie.PathDivisions, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	snap, err := h.orch.Refresh(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, auth.ErrReauthRequired)
	assert.Equal(t, 0, h.upstream.count(engie.PathMobileLogin))
	assert.Equal(t, 1, h.upstream.count(engie.PathDivisions))
}

func TestRefresh_BearerHeaders(t *testing.T) {
	h := newHarness(t, auth.Config{Mode: auth.ModeBearer, BearerToken: "BT"}, testNow)
	h.upstream.on(engie.PathUserMe, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer BT", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"data": map[string]any{"email": "b@x.ro"}})
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BT", snap.Token)
	assert.Equal(t, "bearer", snap.AuthMode)
}

func TestRefresh_TokenFailureAbortsCycle(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathMobileLogin, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"token": ""}})
	})

	_, err := h.orch.Refresh(context.Background())
	assert.ErrorIs(t, err, auth.ErrCredentials)
	assert.Equal(t, 0, h.upstream.count(engie.PathUserMe))
}

func TestRefresh_MissingIdentifiersSkipSections(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathPlaces, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{map[string]any{"contract_account": "PA1"}}})
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped: missing poc", snap.Errors[snapshot.SectionDivisions])
	assert.Equal(t, "skipped: missing poc", snap.Errors[snapshot.SectionConsumption])
	assert.NotContains(t, snap.Errors, snapshot.SectionBalance)
	assert.Equal(t, 0, h.upstream.count(engie.PathDivisions))
	assert.Equal(t, 1, h.upstream.count(engie.PathBalance))
}

func TestRefresh_DivisionDiscoveredFromDivisionsCall(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.upstream.on(engie.PathPlaces, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"poc_number": "5001", "contract_account": "PA1"}})
	})
	var gotDivision atomic.Value
	h.upstream.on(engie.PathIndexHistory, func(w http.ResponseWriter, r *http.Request) {
		var body engie.IndexHistoryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotDivision.Store(body.Division)
		assert.Equal(t, "2022-06-15", body.StartDate)
		writeJSON(w, map[string]any{"data": []any{}})
	})

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Places, 1)
	assert.Equal(t, "gaz", gotDivision.Load())
	assert.NotContains(t, snap.Errors, snapshot.SectionIndexHistory)
}

func TestRefresh_ConfiguredPOC(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)
	h.orch.cfg.POC = "5002"

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PA2", snap.Account["pa"])
	assert.Equal(t, "electricitate", snap.Account["division"])
}

func TestRefresh_SecondCycleReusesToken(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow)

	_, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	_, err = h.orch.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.upstream.count(engie.PathMobileLogin))
}

func TestRefresh_CancelledContext(t *testing.T) {
	h := newHarness(t, auth.Config{Mode: auth.ModeBearer, BearerToken: "BT"}, testNow)
	ctx, cancel := context.WithCancel(context.Background())
	h.upstream.on(engie.PathDivisions, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		writeJSON(w, map[string]any{"data": []any{}})
	})

	snap, err := h.orch.Refresh(ctx)
	assert.Nil(t, snap)
	assert.True(t, errors.Is(err, context.Canceled))
}

// timeoutError is a net.Error reporting a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// timeoutTransport times out every request whose path starts with prefix.
type timeoutTransport struct {
	prefix string
}

func (tt timeoutTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.HasPrefix(r.URL.Path, tt.prefix) {
		return nil, timeoutError{}
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestRefresh_SectionTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow, engie.WithTransport(timeoutTransport{prefix: engie.PathConsumption}))

	snap, err := h.orch.Refresh(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.Errors[snapshot.SectionConsumption], "timeout")
	assert.Equal(t, 1, h.failures[snapshot.SectionConsumption])
	assert.Empty(t, snap.Consumption)
	assert.Len(t, snap.Invoices, 2)
	assert.Len(t, snap.IndexHistory, 3)
	assert.True(t, h.orch.HasSucceeded())
	assert.Equal(t, 1, h.upstream.count(engie.PathMobileLogin))
}

func TestRefresh_TokenTimeoutAbortsCycle(t *testing.T) {
	h := newHarness(t, mobileConfig(), testNow, engie.WithTransport(timeoutTransport{prefix: engie.PathMobileLogin}))

	snap, err := h.orch.Refresh(context.Background())
	assert.Nil(t, snap)
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
	assert.NotErrorIs(t, err, auth.ErrReauthRequired)
	assert.Equal(t, 0, h.upstream.count(engie.PathUserMe))
	assert.Equal(t, 0, h.upstream.count(engie.PathPlaces))
	assert.False(t, h.orch.HasSucceeded())
}

func TestClampInterval(t *testing.T) {
	d, raised := ClampInterval(0)
	assert.Equal(t, DefaultInterval, d)
	assert.False(t, raised)

	d, raised = ClampInterval(60 * time.Second)
	assert.Equal(t, MinInterval, d)
	assert.True(t, raised)

	d, raised = ClampInterval(time.Hour)
	assert.Equal(t, time.Hour, d)
	assert.False(t, raised)
}
