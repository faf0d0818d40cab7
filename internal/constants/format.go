package constants

// Format selects how commands render results.
type Format string

const (
	// FormatText renders aligned tables for terminals.
	FormatText Format = "text"

	// FormatJSON renders indented JSON for scripts.
	FormatJSON Format = "json"
)

// Valid returns true if the format is a recognized value.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatJSON:
		return true
	}
	return false
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}
