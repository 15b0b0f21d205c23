package game

import "strings"

const unknownDate = "unknown"

// Identity is the dedup key of a candidate. Native identities win over
// title identities whenever the provider supplied an id.
type Identity struct {
	Provider string
	NativeID string
	Title    string
	Date     string
}

func (k Identity) IsNative() bool { return k.NativeID != "" }

func (k Identity) String() string {
	if k.IsNative() {
		return k.Provider + ":" + k.NativeID
	}
	return "title:" + k.Title + "|" + k.Date
}

// Identify derives the identity key for a record. It never fails: records
// without a native id fall back to the normalized title and release date.
func Identify(c CandidateRecord) Identity {
	if id := strings.TrimSpace(c.NativeID); id != "" {
		provider := strings.ToLower(strings.TrimSpace(c.Provider))
		if provider == "" {
			provider = "unknown"
		}
		return Identity{Provider: provider, NativeID: id}
	}
	date := strings.TrimSpace(c.ReleaseDate)
	if date == "" {
		date = unknownDate
	}
	return Identity{Title: NormalizeTitle(c.Title), Date: date}
}

func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
