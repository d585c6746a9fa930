package availability

import "errors"

var (
	ErrInvalidWindow = errors.New("invalid availability window")
)
