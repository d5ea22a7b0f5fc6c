package clientconfig

import (
	"net/http"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/gin-gonic/gin"
)

// FirebaseWebConfig is the Firebase JS SDK initialization object.
type FirebaseWebConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// FromConfig extracts the public Firebase web config.
func FromConfig(cfg *config.Config) FirebaseWebConfig {
	return FirebaseWebConfig{
		APIKey:            cfg.FirebaseAPIKey,
		AuthDomain:        cfg.FirebaseAuthDomain,
		ProjectID:         cfg.FirebaseProjectID,
		StorageBucket:     cfg.FirebaseStorageBucket,
		MessagingSenderID: cfg.FirebaseMessagingSenderID,
		AppID:             cfg.FirebaseAppID,
	}
}

// Handler handles GET /api/config.
func Handler(cfg FirebaseWebConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg)
	}
}
