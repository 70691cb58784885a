package validation

import (
	"fmt"
	"net/url"
	"unicode"

	"kirimkan/internal/constants"
	"kirimkan/internal/errors"
)

// ValidateSessionID validates session identifier format and length.
// Session ids become path segments, log fields, and map keys, so the
// accepted alphabet is deliberately narrow.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "session ID cannot be empty").
			WithUserMessage("Session ID is required")
	}

	if len(sessionID) > constants.MaxSessionIDLength {
		return errors.New(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("session ID too long (max %d characters)", constants.MaxSessionIDLength)).
			WithUserMessage(fmt.Sprintf("Session ID too long (max %d characters)", constants.MaxSessionIDLength))
	}

	for _, char := range sessionID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidArgument,
				"session ID must contain only letters, numbers, underscores, and dashes").
				WithUserMessage("Session ID must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateCallbackURL validates a webhook destination URL. The URL must
// be absolute with an http or https scheme and a non-empty host.
func ValidateCallbackURL(raw string) error {
	if raw == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "callback URL cannot be empty").
			WithUserMessage("Invalid webhook URL format")
	}

	if len(raw) > constants.MaxCallbackURLLength {
		return errors.New(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("callback URL too long (max %d characters)", constants.MaxCallbackURLLength)).
			WithUserMessage("Webhook URL too long")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidArgument, "callback URL does not parse").
			WithUserMessage("Invalid webhook URL format")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("callback URL scheme must be http or https, got %q", u.Scheme)).
			WithUserMessage("Invalid webhook URL format")
	}

	if u.Host == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "callback URL must be absolute").
			WithUserMessage("Invalid webhook URL format")
	}

	return nil
}
