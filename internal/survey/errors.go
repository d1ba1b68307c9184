package survey

import "errors"

var (
	ErrChannelUnreachable = errors.New("survey: recipient unreachable")
	ErrResponseTimeout    = errors.New("survey: no response before timeout")
	ErrGenerationFailure  = errors.New("survey: text generation failed")
	ErrSynthesisFailure   = errors.New("survey: speech synthesis failed")
	ErrEmptyInput         = errors.New("survey: no answers to build from")
)
