package execution

import "strings"

// Judge0 language ids for the editor's language tags.
var languageIDs = map[string]int{
	"javascript": 63,
	"js":         63,
	"python":     71,
	"py":         71,
	"java":       62,
	"c":          50,
	"cpp":        54,
	"c++":        54,
}

// LanguageID maps an editor language tag to a Judge0 language id.
func LanguageID(language string) (int, bool) {
	id, ok := languageIDs[strings.ToLower(strings.TrimSpace(language))]
	return id, ok
}

// Judge0 status ids.
const (
	statusInQueue    = 1
	statusProcessing = 2
	statusAccepted   = 3
)

func isPending(statusID int) bool {
	return statusID == statusInQueue || statusID == statusProcessing
}
