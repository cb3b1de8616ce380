package ledger

import "fmt"

// MaxFieldBytes bounds the byte length of tracking and lot identifiers.
const MaxFieldBytes = 256

// ValidateLength rejects strings longer than MaxFieldBytes bytes.
func ValidateLength(s string) error {
	if len(s) > MaxFieldBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrStringTooLong, len(s), MaxFieldBytes)
	}
	return nil
}

func validateFields(trackingID, lotID string) error {
	if err := ValidateLength(trackingID); err != nil {
		return fmt.Errorf("tracking id: %w", err)
	}
	if err := ValidateLength(lotID); err != nil {
		return fmt.Errorf("lot id: %w", err)
	}
	return nil
}
