package errutil

type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "bad_request"
	StatusValidationFailed    CoreStatus = "validation_failed"
	StatusNotFound            CoreStatus = "not_found"
	StatusConflict            CoreStatus = "conflict"
	StatusFailedPrecondition  CoreStatus = "failed_precondition"
	StatusUnprocessableEntity CoreStatus = "unprocessable_entity"
	StatusTooManyRequests     CoreStatus = "too_many_requests"
	StatusTimeout             CoreStatus = "timeout"
	StatusInternal            CoreStatus = "internal"
	StatusUnavailable         CoreStatus = "unavailable"
	StatusBadGateway          CoreStatus = "bad_gateway"
)

// Fatal reports whether a status aborts the current campaign run.
func (s CoreStatus) Fatal() bool {
	switch s {
	case StatusNotFound, StatusFailedPrecondition, StatusValidationFailed, StatusUnprocessableEntity, StatusInternal:
		return true
	default:
		return false
	}
}
