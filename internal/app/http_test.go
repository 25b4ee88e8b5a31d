package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"aprueba/api/internal/erp"
)

func newTestHandler(t *testing.T, fake *fakeERP) (http.Handler, *Service) {
	t.Helper()
	svc := newTestService(t, fake, nil)
	server := NewHTTPServer(svc, "*", zerolog.Nop())
	return server.Handler(), svc
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	decoded := map[string]any{}
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder, decoded
}

func loginOverHTTP(t *testing.T, handler http.Handler) string {
	t.Helper()
	recorder, body := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{
		"usuario": "jsmith", "password": "secret",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %v", recorder.Code, body)
	}
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatalf("login response missing accessToken: %v", body)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())
	recorder, body := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", recorder.Code, body)
	}
}

func TestLoginContract(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{
		"usuario": "jsmith", "password": "secret",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if body["tokenType"] != "bearer" || body["usuario"] != "jsmith" {
		t.Fatalf("body = %v", body)
	}

	recorder, body = doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"usuario": "jsmith"})
	if recorder.Code != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("missing password: %d %v", recorder.Code, body)
	}
}

func TestLoginUpstreamRejection(t *testing.T) {
	fake := newFakeERP()
	fake.loginFn = func(string, string) (erp.LoginResult, error) {
		return erp.LoginResult{}, &erp.AuthError{Message: "Credenciales incorrectas"}
	}
	handler, _ := newTestHandler(t, fake)

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{
		"usuario": "jsmith", "password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("status = %d body = %v", recorder.Code, body)
	}
}

func TestDocumentsRequireSession(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())
	recorder, body := doJSON(t, handler, http.MethodGet, "/api/presupuestos", "", nil)
	if recorder.Code != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("status = %d body = %v", recorder.Code, body)
	}
}

func TestDocumentsEndpointResolvesTab(t *testing.T) {
	fake := newFakeERP()
	fake.listApprovedFn = func(erp.Kind, string, string, string) ([]erp.Document, error) {
		return []erp.Document{{Kind: erp.KindBudget, Key: erp.Key{LocCod: 1, Nro: 2}, Approved: true}}, nil
	}
	handler, _ := newTestHandler(t, fake)
	token := loginOverHTTP(t, handler)

	recorder, body := doJSON(t, handler, http.MethodGet, "/api/presupuestos?tab=aprobados", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", recorder.Code, body)
	}
	if body["view"] != "aprobados" {
		t.Fatalf("view = %v, want aprobados", body["view"])
	}
	docs, _ := body["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("documents = %v", body["documents"])
	}

	// Tab omitted afterwards: remembered state wins.
	recorder, body = doJSON(t, handler, http.MethodGet, "/api/presupuestos", token, nil)
	if recorder.Code != http.StatusOK || body["view"] != "aprobados" {
		t.Fatalf("second read: %d view = %v", recorder.Code, body["view"])
	}
}

func TestIndicatorsEndpoint(t *testing.T) {
	fake := newFakeERP()
	fake.indicatorsFn = func(erp.Kind) (erp.BackendIndicators, error) {
		return erp.BackendIndicators{Pending: 4}, nil
	}
	handler, _ := newTestHandler(t, fake)
	token := loginOverHTTP(t, handler)

	recorder, body := doJSON(t, handler, http.MethodGet, "/api/ordenes-compra/indicadores", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", recorder.Code, body)
	}
	if body["pendientes"] != float64(4) || body["aprobadosHoy"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
}

func TestCommandLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())
	token := loginOverHTTP(t, handler)

	request := map[string]any{"kind": "presupuestos", "locCod": 1, "nro": 4521, "action": "aprobar"}
	recorder, body := doJSON(t, handler, http.MethodPost, "/api/commands", token, request)
	if recorder.Code != http.StatusCreated || body["state"] != "awaiting_confirmation" {
		t.Fatalf("request: %d %v", recorder.Code, body)
	}

	recorder, body = doJSON(t, handler, http.MethodGet, "/api/commands/current", token, nil)
	if recorder.Code != http.StatusOK || body["state"] != "awaiting_confirmation" {
		t.Fatalf("current: %d %v", recorder.Code, body)
	}

	// A second intent is rejected while the first awaits confirmation.
	recorder, body = doJSON(t, handler, http.MethodPost, "/api/commands", token, map[string]any{
		"kind": "ordenes-compra", "locCod": 2, "nro": 9, "action": "aprobar",
	})
	if recorder.Code != http.StatusConflict || body["code"] != "COMMAND_BUSY" {
		t.Fatalf("busy: %d %v", recorder.Code, body)
	}

	recorder, body = doJSON(t, handler, http.MethodPost, "/api/commands/confirm", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("confirm: %d %v", recorder.Code, body)
	}
	cmd, _ := body["command"].(map[string]any)
	if cmd["state"] != "idle" {
		t.Fatalf("command after confirm = %v", cmd)
	}
	if _, ok := body["receipt"]; !ok {
		t.Fatalf("confirm response missing receipt: %v", body)
	}

	// The slot is free again.
	recorder, body = doJSON(t, handler, http.MethodPost, "/api/commands", token, request)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("request after confirm: %d %v", recorder.Code, body)
	}
}

func TestCommandConfirmConflictOverHTTP(t *testing.T) {
	fake := newFakeERP()
	fake.approveFn = func(erp.Kind, erp.Key) (erp.Receipt, error) {
		return erp.Receipt{}, &erp.ConflictError{Message: "Presupuesto ya aprobado"}
	}
	handler, _ := newTestHandler(t, fake)
	token := loginOverHTTP(t, handler)

	doJSON(t, handler, http.MethodPost, "/api/commands", token, map[string]any{
		"kind": "presupuestos", "locCod": 1, "nro": 4521, "action": "aprobar",
	})
	recorder, body := doJSON(t, handler, http.MethodPost, "/api/commands/confirm", token, nil)
	if recorder.Code != http.StatusConflict || body["code"] != "CONFLICT" {
		t.Fatalf("confirm conflict: %d %v", recorder.Code, body)
	}
	cmd, _ := body["command"].(map[string]any)
	if cmd["state"] != "failed" {
		t.Fatalf("command = %v, want failed", cmd)
	}

	// Cancel clears the failed command.
	recorder, body = doJSON(t, handler, http.MethodPost, "/api/commands/cancel", token, nil)
	if recorder.Code != http.StatusOK || body["state"] != "idle" {
		t.Fatalf("cancel: %d %v", recorder.Code, body)
	}
}

func TestCommandValidation(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())
	token := loginOverHTTP(t, handler)

	cases := []map[string]any{
		{"kind": "facturas", "locCod": 1, "nro": 1, "action": "aprobar"},
		{"kind": "presupuestos", "locCod": 1, "nro": 1, "action": "archivar"},
		{"kind": "presupuestos", "locCod": 1, "nro": 0, "action": "aprobar"},
	}
	for _, payload := range cases {
		recorder, body := doJSON(t, handler, http.MethodPost, "/api/commands", token, payload)
		if recorder.Code != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
			t.Fatalf("payload %v: %d %v", payload, recorder.Code, body)
		}
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	handler, _ := newTestHandler(t, newFakeERP())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing runtime collectors")
	}
}
