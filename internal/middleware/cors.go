package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows every origin, method and header unless origins narrows the origin list.
// The voice client reads the pipeline headers, so they are exposed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition", "X-Pipeline-Outcome", "X-Pipeline-Stage"},
		MaxAge:         300,
	})
}
