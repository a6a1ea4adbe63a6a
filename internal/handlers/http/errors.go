package http

import (
	"context"
	"net/http"

	"chatty/internal/core/domain"
	"chatty/pkg/circuitbreaker"
	"chatty/pkg/errors"
	"chatty/pkg/validation"
)

var domainErrors = []errors.Mapping{
	{Target: domain.ErrGroupNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrChannelNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrUserNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrUnauthorized, Code: errors.ErrCodeForbidden, Status: http.StatusForbidden},
	{Target: domain.ErrBanned, Code: errors.ErrCodeForbidden, Status: http.StatusForbidden},
	{Target: validation.ErrInvalid, Code: errors.ErrCodeInvalidInput, Status: http.StatusBadRequest},
	{Target: context.DeadlineExceeded, Code: errors.ErrCodeServiceUnavailable, Status: http.StatusServiceUnavailable},
	{Target: circuitbreaker.ErrOpen, Code: errors.ErrCodeServiceUnavailable, Status: http.StatusServiceUnavailable},
}

func translate(err error) *errors.AppError {
	return errors.Translate(err, domainErrors...)
}
