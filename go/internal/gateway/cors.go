package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSMiddleware allows the SPA's origins to call the intent API
func CORSMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         86400,
	})
	return c.Handler(next)
}
