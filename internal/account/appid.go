package account

import "fmt"

// AppIDLength is the exact length of an application id.
const AppIDLength = 4

// memoVersion prefixes every memo written by an application with an id.
const memoVersion = "1"

// AppID tags the memos an application writes: "1-<appid>-<memo>".
type AppID string

// ParseAppID validates s as an application id: exactly four ASCII letters
// or digits.
func ParseAppID(s string) (AppID, error) {
	if len(s) != AppIDLength {
		return "", fmt.Errorf("app id %q must be %d characters", s, AppIDLength)
	}
	for _, c := range s {
		if !isAlnum(c) {
			return "", fmt.Errorf("app id %q must be alphanumeric", s)
		}
	}
	return AppID(s), nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Memo returns memo with the application prefix. An empty id leaves memo
// unchanged.
func (id AppID) Memo(memo string) string {
	if id == "" {
		return memo
	}
	return memoVersion + "-" + string(id) + "-" + memo
}
