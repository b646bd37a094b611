package ledger

// FormatVersion is written into every ledger file. Files with another
// version are treated as malformed.
const FormatVersion = 1
