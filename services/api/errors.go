package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"channel-backtest/services/backtest"
	"channel-backtest/services/engine"
	"channel-backtest/services/marketdata"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var (
	ErrInvalidStrategy = APIError{Code: "INVALID_STRATEGY", Message: "Unknown strategy"}
	ErrInvalidParams   = APIError{Code: "INVALID_PARAMS", Message: "Invalid parameters provided"}
	ErrInvalidData     = APIError{Code: "INVALID_DATA", Message: "Bars cannot be backtested"}
	ErrDataNotFound    = APIError{Code: "DATA_NOT_FOUND", Message: "Required data not available"}
	ErrJobNotFound     = APIError{Code: "JOB_NOT_FOUND", Message: "No result for this job id"}
	ErrExecutionFailed = APIError{Code: "EXECUTION_FAILED", Message: "Backtest execution failed"}
	ErrTimeout         = APIError{Code: "TIMEOUT", Message: "Operation timed out"}
)

func (e APIError) With(details string) *APIError {
	e.Details = details
	return &e
}

// classify maps a run error to a status code and API error.
func classify(err error) (int, *APIError) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Field == "strategy":
		return http.StatusBadRequest, ErrInvalidStrategy.With(err.Error())
	case errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest, ErrInvalidParams.With(err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, ErrDataNotFound.With(err.Error())
	case errors.Is(err, marketdata.ErrMissingColumns),
		errors.Is(err, marketdata.ErrNoBars),
		errors.Is(err, backtest.ErrInvalidSeries):
		return http.StatusUnprocessableEntity, ErrInvalidData.With(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTimeout.With(err.Error())
	default:
		return http.StatusInternalServerError, ErrExecutionFailed.With(err.Error())
	}
}
