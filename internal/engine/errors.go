package engine

import "errors"

var (
	ErrNoSource         = errors.New("no source image uploaded")
	ErrRenderInFlight   = errors.New("a render is already in progress for this session")
	ErrUnknownStyle     = errors.New("unknown rendering style")
	ErrUnknownPattern   = errors.New("unknown pattern mode")
	ErrGranularityRange = errors.New("granularity must be between 0 and 100")
	ErrNoResult         = errors.New("no rendering available")
	ErrEmptyAPIKey      = errors.New("api key is empty")
)
