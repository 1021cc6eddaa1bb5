package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/requestdata"
	"github.com/pulsenote/pulsenote-backend/internal/services"
)

const testSecret = "middleware-test-secret"

func newProtectedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)

	authService, err := services.NewAuthService(log, testSecret)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	router := gin.New()
	router.GET("/whoami", NewAuthMiddleware(log, authService).RequireAuth(), func(c *gin.Context) {
		rd := requestdata.GetRequestData(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": rd.UserID})
	})
	return router
}

func signTestToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	router := newProtectedRouter(t)
	userID := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, userID))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != userID {
		t.Fatalf("user id: want=%s got=%s", userID, resp.UserID)
	}
}

func TestRequireAuthAcceptsQueryToken(t *testing.T) {
	// EventSource cannot set headers; the token rides the query string instead.
	router := newProtectedRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami?token="+signTestToken(t, uuid.New()), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRequireAuthRejectsMissingOrBadToken(t *testing.T) {
	router := newProtectedRouter(t)

	build := map[string]func(r *http.Request){
		"no token":      func(r *http.Request) {},
		"not bearer":    func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
		"garbage token": func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
	}
	for name, decorate := range build {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/whoami", nil)
		decorate(req)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status want=401 got=%d", name, w.Code)
		}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("%s: decode envelope: %v", name, err)
		}
		if envelope.Error.Code != "unauthorized" {
			t.Fatalf("%s: code want=unauthorized got=%q", name, envelope.Error.Code)
		}
	}
}
