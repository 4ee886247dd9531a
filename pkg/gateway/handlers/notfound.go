package handlers

import (
	"net/http"

	"github.com/vango-go/vai-live/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.WriteJSONError(w, http.StatusNotFound, "Not found")
}

type MethodNotAllowedHandler struct{}

func (h MethodNotAllowedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
