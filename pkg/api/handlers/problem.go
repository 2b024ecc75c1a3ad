// Package handlers provides HTTP handlers for the controller API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/compute"
	"github.com/netloom/netloom/pkg/models"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type identifies the problem class (validation-error, not-found,
	// conflict, compute-unreachable, driver-error, timeout, internal).
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, problemType string, status int, title, detail string) {
	problem := &Problem{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// BadRequest writes a 400 validation-error problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, "validation-error", http.StatusBadRequest, "Bad Request", detail)
}

// NotFound writes a 404 not-found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, "not-found", http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, "conflict", http.StatusConflict, "Conflict", detail)
}

// InternalServerError writes a 500 internal problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, "internal", http.StatusInternalServerError, "Internal Server Error", detail)
}

// notFoundErrors are sentinels mapping to 404.
var notFoundErrors = []error{
	models.ErrComputeNotFound,
	models.ErrProjectNotFound,
	models.ErrNodeNotFound,
	models.ErrLinkNotFound,
	models.ErrDrawingNotFound,
	models.ErrSnapshotNotFound,
	models.ErrSettingNotFound,
}

// conflictErrors are sentinels mapping to 409: clashes and violated state
// preconditions. No state change happened.
var conflictErrors = []error{
	models.ErrDuplicateCompute,
	models.ErrComputeInUse,
	models.ErrDuplicateProject,
	models.ErrProjectNotOpened,
	models.ErrProjectRunning,
	models.ErrProjectLocked,
	models.ErrDuplicateName,
	models.ErrNodeRunning,
	models.ErrInvalidStateMove,
	models.ErrPortInUse,
	models.ErrSameNodeLoop,
	models.ErrAlreadyCaptured,
	models.ErrNotCapturing,
	models.ErrNoPortAvailable,
	models.ErrPortAlreadyAllocated,
}

// MapError converts a domain error to its RFC 7807 problem response. Only
// the outermost handler calls this; everything below returns typed errors.
func MapError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrValidation) {
		BadRequest(w, err.Error())
		return
	}
	for _, sentinel := range notFoundErrors {
		if errors.Is(err, sentinel) {
			NotFound(w, err.Error())
			return
		}
	}
	for _, sentinel := range conflictErrors {
		if errors.Is(err, sentinel) {
			Conflict(w, err.Error())
			return
		}
	}
	if errors.Is(err, models.ErrComputeUnreachable) {
		WriteProblem(w, "compute-unreachable", http.StatusServiceUnavailable, "Compute Unreachable", err.Error())
		return
	}

	var computeErr *compute.Error
	if errors.As(err, &computeErr) {
		switch computeErr.Kind {
		case compute.KindNetwork:
			WriteProblem(w, "compute-unreachable", http.StatusServiceUnavailable, "Compute Unreachable", err.Error())
		case compute.KindTimeout:
			WriteProblem(w, "timeout", http.StatusGatewayTimeout, "Gateway Timeout", err.Error())
		case compute.KindConflict:
			Conflict(w, err.Error())
		default:
			WriteProblem(w, "driver-error", http.StatusInternalServerError, "Driver Error", err.Error())
		}
		return
	}

	logger.Error("unhandled API error", logger.KeyError, err)
	InternalServerError(w, "internal error")
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONCreated writes a 201 Created JSON response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
