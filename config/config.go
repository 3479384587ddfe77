package config

import (
	"encoding/json"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/nagarsathi/civic-issues-api/models"
)

// Config holds the project config values
type Config struct {
	URL                    string
	DatabaseName           string
	BaseURL                string
	Port                   string
	ClerkSecretKey         string
	ClerkJWTPublicKey      string
	RedisAddr              string
	RedisPassword          string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadPreset string
	SendgridAPIKey         string
	AdminDigestEmail       string
	NominatimBaseURL       string
}

// New sets up all config related services
func New() *Config {

	//setup zap logger and replace default logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	nominatim := os.Getenv("NOMINATIM_BASE_URL")
	if nominatim == "" {
		nominatim = "https://nominatim.openstreetmap.org"
	}

	return &Config{
		URL:                    os.Getenv("DB_URI"),
		DatabaseName:           os.Getenv("DB_NAME"),
		BaseURL:                os.Getenv("BASE_URL"),
		Port:                   os.Getenv("PORT"),
		ClerkSecretKey:         os.Getenv("CLERK_SECRET_KEY"),
		ClerkJWTPublicKey:      os.Getenv("CLERK_JWT_PUBLIC_KEY"),
		RedisAddr:              os.Getenv("REDIS_ADDRESS"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		CloudinaryCloudName:    os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:       os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret:    os.Getenv("CLOUDINARY_API_SECRET"),
		CloudinaryUploadPreset: os.Getenv("CLOUDINARY_UPLOAD_PRESET"),
		SendgridAPIKey:         os.Getenv("SENDGRID_API_KEY"),
		AdminDigestEmail:       os.Getenv("ADMIN_DIGEST_EMAIL"),
		NominatimBaseURL:       nominatim,
	}

}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	resp := models.ErrorMessageResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	b, _ := json.Marshal(resp)
	w.Write(b)
}
