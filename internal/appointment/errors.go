package appointment

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Booking and availability policy rejections.
var (
	ErrPastDatetime            = errors.New("start time must be in the future")
	ErrOutsideAvailability     = errors.New("start time is not a bookable boundary in the doctor's availability")
	ErrSlotTaken               = errors.New("slot is already taken")
	ErrInvalidWindow           = errors.New("availability window start must be before end")
	ErrWindowBoundary          = errors.New("availability window bounds must be on the hour")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var (
	ErrForbidden      = errors.New("not allowed for this user")
	ErrSelfRoleChange = errors.New("admins cannot change their own role")
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindPolicy        ErrorKind = "POLICY_REJECTION"
	KindAuthorization ErrorKind = "AUTHORIZATION"
	KindInternal      ErrorKind = "INTERNAL"
)

// Kind sorts an error returned by this package into the caller-facing taxonomy.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrWindowNotFound):
		return KindNotFound
	case errors.Is(err, ErrPastDatetime),
		errors.Is(err, ErrOutsideAvailability),
		errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrWindowBoundary),
		errors.Is(err, ErrInvalidStatusTransition):
		return KindPolicy
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrSelfRoleChange):
		return KindAuthorization
	}
	return KindInternal
}
