package clientconfig

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		FirebaseAPIKey:            "AIza-test",
		FirebaseAuthDomain:        "planner.firebaseapp.com",
		FirebaseProjectID:         "planner",
		FirebaseStorageBucket:     "planner.appspot.com",
		FirebaseMessagingSenderID: "1234",
		FirebaseAppID:             "1:1234:web:abcd",
		FirebaseServiceAccountKey: `{"private_key":"secret"}`,
		TripayPrivateKey:          "secret",
	}

	router := gin.New()
	router.GET("/api/config", Handler(FromConfig(cfg)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"apiKey": "AIza-test",
		"authDomain": "planner.firebaseapp.com",
		"projectId": "planner",
		"storageBucket": "planner.appspot.com",
		"messagingSenderId": "1234",
		"appId": "1:1234:web:abcd"
	}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")
}
