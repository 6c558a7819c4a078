package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"github.com/sardanioss/httpcloakproxy/registry"
)

func newTestHandlers(t *testing.T) (*Handlers, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(2, time.Hour, fingerprint.Chrome133(), 0)
	t.Cleanup(reg.Close)
	return newHandlers(nil, reg, nil, 2, nil), reg
}

func TestSessionCreateThenDeleteThenCookiesMisses(t *testing.T) {
	h, reg := newTestHandlers(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/proxy/session/create", nil)
	h.SessionCreate(c)
	if w.Code != http.StatusOK {
		t.Fatalf("SessionCreate status = %d, want 200", w.Code)
	}

	if reg.Size() != 1 {
		t.Fatalf("registry size after create = %d, want 1", reg.Size())
	}

	var handle string
	for _, info := range reg.List() {
		handle = info.Handle
	}

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodDelete, "/proxy/session/"+handle, nil)
	c2.Params = gin.Params{{Key: "id", Value: handle}}
	h.SessionDelete(c2)
	if w2.Code != http.StatusOK {
		t.Fatalf("SessionDelete status = %d, want 200", w2.Code)
	}

	w3 := httptest.NewRecorder()
	c3, _ := gin.CreateTestContext(w3)
	c3.Request = httptest.NewRequest(http.MethodGet, "/proxy/session/"+handle+"/cookies", nil)
	c3.Params = gin.Params{{Key: "id", Value: handle}}
	h.SessionCookies(c3)
	if w3.Code != http.StatusNotFound {
		t.Errorf("SessionCookies after delete: status = %d, want 404", w3.Code)
	}
}

func TestSessionCreateFailsAtCapacity(t *testing.T) {
	h, _ := newTestHandlers(t)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/proxy/session/create", nil)
		h.SessionCreate(c)
		if w.Code != http.StatusOK {
			t.Fatalf("create %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/proxy/session/create", nil)
	h.SessionCreate(c)
	if w.Code != http.StatusBadRequest {
		t.Errorf("create over capacity: status = %d, want 400", w.Code)
	}
}

func TestHealthReportsRegistrySize(t *testing.T) {
	h, reg := newTestHandlers(t)
	reg.Create("")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	h.Health(c)

	if w.Code != http.StatusOK {
		t.Fatalf("Health status = %d, want 200", w.Code)
	}
}
