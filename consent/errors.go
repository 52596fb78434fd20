package consent

import "errors"

var (
	ErrUnknownConsent    = errors.New("unknown consent")
	ErrPermanentlyDenied = errors.New("consent permanently denied")
	ErrUnknownTicket     = errors.New("unknown consent ticket")
	ErrNoPrompter        = errors.New("no consent prompter attached")
)
