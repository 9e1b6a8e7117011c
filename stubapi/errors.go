package stubapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
	"taskmanagement/storage"
)

// Error codes carried in error bodies.
const (
	codeInvalidBody         = "invalid_body"
	codeInvalidQuery        = "invalid_query"
	codeInvalidPageToken    = "invalid_page_token"
	codeValidation          = "validation_failed"
	codeNotFound            = "not_found"
	codeUnauthorized        = "unauthorized"
	codeConflict            = "idempotency_in_flight"
	codeUnsupportedEncoding = "unsupported_encoding"
	codeInternal            = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func apiError(status int, code, msg string) *echo.HTTPError {
	return echo.NewHTTPError(status, errorBody{Error: msg, Code: code})
}

// toAPIError maps domain and storage failures onto HTTP errors.
func toAPIError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrInvalidProject):
		return apiError(http.StatusUnprocessableEntity, codeValidation, err.Error())
	case errors.Is(err, domain.ErrInvalidQuery):
		return apiError(http.StatusBadRequest, codeInvalidQuery, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return apiError(http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, storage.ErrInFlight):
		return apiError(http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, storage.ErrNoOwner):
		return apiError(http.StatusUnauthorized, codeUnauthorized, err.Error())
	}
	return apiError(http.StatusInternalServerError, codeInternal, err.Error())
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return codeUnauthorized
	case status >= http.StatusInternalServerError:
		return codeInternal
	}
	return codeInvalidBody
}

// errorHandler writes every error as {"error", "code"}.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he := toAPIError(err)
		body := errorBody{}
		switch m := he.Message.(type) {
		case errorBody:
			body = m
		case string:
			body = errorBody{Error: m, Code: codeForStatus(he.Code)}
		default:
			body = errorBody{Error: fmt.Sprint(m), Code: codeForStatus(he.Code)}
		}
		if he.Code >= http.StatusInternalServerError {
			logger.WithError(err).WithField("route", c.Path()).Error("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, body)
	}
}
