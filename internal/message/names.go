package message

import (
	"golang.org/x/text/unicode/norm"
)

// CanonicalName normalizes a topic or service name to NFC so that composed and
// decomposed spellings address the same table entry.
func CanonicalName(name string) string {
	if norm.NFC.IsNormalString(name) {
		return name
	}
	return norm.NFC.String(name)
}
