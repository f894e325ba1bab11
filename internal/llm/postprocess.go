package llm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// fillerOpeners are conversational preambles models keep prepending
// despite the system instruction.
var fillerOpeners = regexp.MustCompile(`(?i)^(sure|certainly|of course|okay|alright|got it|great question)[,!.:]\s+`)

// hereLine matches a short "Here is ...:" style lead-in left over
// after the filler opener is stripped.
var hereLine = regexp.MustCompile(`(?i)^here('s| is| are)?\b[^\n]{0,60}:\s*\n+`)

// codeHints mark a line as command or manifest content.
var codeHints = []string{
	"$ ", "#!/", "docker ", "docker-compose ", "kubectl ", "curl ",
	"FROM ", "RUN ", "CMD ", "EXPOSE ", "apiVersion:", "kind:",
}

// languageHints maps keywords in the user's question to a fence
// language tag.
var languageHints = []struct {
	keyword  string
	language string
}{
	{"dockerfile", "dockerfile"},
	{"compose", "yaml"},
	{"yaml", "yaml"},
	{"manifest", "yaml"},
	{"kubernetes", "yaml"},
	{"json", "json"},
	{"python", "python"},
	{"golang", "go"},
	{"shell", "bash"},
	{"bash", "bash"},
	{"command", "bash"},
	{"script", "bash"},
}

// Polish applies the deterministic cleanup pass to a raw model reply:
// drop a conversational preamble and fence code-looking content the
// model forgot to fence. lastUserMessage is only consulted to guess
// the fence language.
func Polish(reply, lastUserMessage string) string {
	text := strings.TrimSpace(reply)

	if stripped := fillerOpeners.ReplaceAllString(text, ""); stripped != text {
		text = hereLine.ReplaceAllString(stripped, "")
		// Re-capitalize after dropping the opener.
		if r, size := utf8.DecodeRuneInString(text); size > 0 && r != utf8.RuneError {
			text = string(unicode.ToUpper(r)) + text[size:]
		}
	}

	if !strings.Contains(text, "```") && looksLikeCode(text) {
		text = "```" + guessLanguage(lastUserMessage) + "\n" + text + "\n```"
	}

	return text
}

func looksLikeCode(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		for _, hint := range codeHints {
			if strings.HasPrefix(trimmed, hint) {
				return true
			}
		}
	}
	return false
}

func guessLanguage(userMessage string) string {
	lower := strings.ToLower(userMessage)
	for _, hint := range languageHints {
		if strings.Contains(lower, hint.keyword) {
			return hint.language
		}
	}
	return ""
}
