package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMountStaticServesViews(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mountStatic(r, filepath.Join("..", "..", "web"))

	for _, path := range []string{"/", "/photo", "/static/app.js", "/static/style.css"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, w.Code)
		}
		if w.Body.Len() == 0 {
			t.Fatalf("GET %s returned an empty body", path)
		}
	}
}
