package server

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem details body. Every error response from the
// core endpoints uses this shape with the application/problem+json media type.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const problemTypeBase = "https://pollenisator.com/problems/"

// problemMeta maps a status code to its problem type slug and title.
var problemMeta = map[int]struct{ slug, title string }{
	http.StatusBadRequest:          {"bad-request", "Bad Request"},
	http.StatusForbidden:           {"forbidden", "Forbidden"},
	http.StatusNotFound:            {"not-found", "Not Found"},
	http.StatusConflict:            {"conflict", "Conflict"},
	http.StatusTooManyRequests:     {"rate-limited", "Too Many Requests"},
	http.StatusInternalServerError: {"internal-error", "Internal Server Error"},
}

// WriteProblem writes p as a problem+json response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeStatus(w http.ResponseWriter, status int, detail, instance string) {
	meta := problemMeta[status]
	WriteProblem(w, Problem{
		Type:     problemTypeBase + meta.slug,
		Title:    meta.title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusBadRequest, detail, instance)
}

// Conflict writes a 409 problem response.
func Conflict(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusConflict, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusInternalServerError, detail, instance)
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusTooManyRequests, detail, instance)
}
