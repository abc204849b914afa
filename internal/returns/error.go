package returns

import "errors"

var (
	ErrReturnNotFound      = errors.New("return not found")
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrInvalidItems        = errors.New("requested items exceed returnable quantities")
	ErrInvalidReturnState  = errors.New("operation not allowed in current return state")
	ErrOrderNotReturnable  = errors.New("order is not eligible for return")
	ErrUnauthorized        = errors.New("unauthorized")
)
