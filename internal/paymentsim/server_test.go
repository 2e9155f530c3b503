package paymentsim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newRouter(declineAbove int64) (*gin.Engine, *Server) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := NewServer(declineAbove, zap.NewNop())
	s.RegisterRoutes(r)
	return r, s
}

func post(r http.Handler, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthorize(t *testing.T) {
	r, s := newRouter(50000)

	w := post(r, "/v1/authorizations", `{"amount":2000,"currency":"USD","metadata":{"buyer_id":"7"}}`, "k1")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var auth Authorization
	if err := json.Unmarshal(w.Body.Bytes(), &auth); err != nil {
		t.Fatal(err)
	}
	if auth.Status != StatusAuthorized || auth.Amount != 2000 || auth.Currency != "usd" || auth.Metadata["buyer_id"] != "7" {
		t.Errorf("got %+v", auth)
	}

	t.Run("same key returns the same authorization", func(t *testing.T) {
		w := post(r, "/v1/authorizations", `{"amount":2000,"currency":"usd"}`, "k1")
		var again Authorization
		_ = json.Unmarshal(w.Body.Bytes(), &again)
		if again.ID != auth.ID {
			t.Errorf("got %s, want %s", again.ID, auth.ID)
		}
	})

	t.Run("void", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if w := post(r, "/v1/authorizations/"+auth.ID+"/void", "", ""); w.Code != http.StatusOK {
				t.Fatalf("void status = %d", w.Code)
			}
		}
		if stored, _ := s.Authorization(auth.ID); stored.Status != StatusVoided {
			t.Errorf("status = %s", stored.Status)
		}
		if w := post(r, "/v1/authorizations/auth_missing/void", "", ""); w.Code != http.StatusNotFound {
			t.Errorf("missing void status = %d", w.Code)
		}
	})
}

func TestAuthorizeDeclines(t *testing.T) {
	r, _ := newRouter(50000)

	w := post(r, "/v1/authorizations", `{"amount":50001,"currency":"usd"}`, "")
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", w.Code)
	}
	var body errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error.Code != "card_declined" || body.Error.Message == "" {
		t.Errorf("got %+v", body)
	}

	for _, bad := range []string{`{"currency":"usd"}`, `{"amount":-1,"currency":"usd"}`, `not json`} {
		if w := post(r, "/v1/authorizations", bad, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", bad, w.Code)
		}
	}
}
