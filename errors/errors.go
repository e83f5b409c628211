package errors

import "fmt"

var (
	ErrRecipientUnknown   = fmt.Errorf("recipient unknown")
	ErrGroupUnknown       = fmt.Errorf("group unknown")
	ErrNotMember          = fmt.Errorf("not a group member")
	ErrChannelUnavailable = fmt.Errorf("channel unavailable")
	ErrChannelFull        = fmt.Errorf("channel full")
	ErrChannelClosed      = fmt.Errorf("channel closed")
	ErrInvalidToken       = fmt.Errorf("invalid token")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
)
