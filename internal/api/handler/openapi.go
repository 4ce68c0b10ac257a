package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"sigs.k8s.io/yaml"

	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/api/response"
)

// OpenAPIHandler serves the API description. JSON is the default; pass
// ?format=yaml for the source document. Both carry the same ETag.
type OpenAPIHandler struct {
	rawYAML  []byte
	jsonSpec []byte
	etag     string
	err      error
}

// NewOpenAPIHandler converts yamlSpec to JSON up front. A document that does
// not convert is reported on every request instead of at startup.
func NewOpenAPIHandler(yamlSpec []byte) *OpenAPIHandler {
	h := &OpenAPIHandler{rawYAML: yamlSpec}
	h.jsonSpec, h.err = yaml.YAMLToJSON(yamlSpec)
	sum := sha256.Sum256(yamlSpec)
	h.etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	return h
}

func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.err != nil {
		middleware.Logger(r.Context()).Error("openapi: document does not convert to JSON", "error", h.err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to convert OpenAPI spec", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("ETag", h.etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	body, contentType := h.jsonSpec, "application/json"
	if r.URL.Query().Get("format") == "yaml" {
		body, contentType = h.rawYAML, "application/yaml"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		middleware.Logger(r.Context()).Warn("openapi: write failed", "error", err)
	}
}
