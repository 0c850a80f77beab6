package scoring

import "strings"

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "how": true, "what": true, "i": true, "my": true,
	"can": true, "or": true, "does": true,
}

// semanticPairs are interchangeable terms matched across query and content.
var semanticPairs = [][2]string{
	{"configure", "setup"},
	{"configuration", "settings"},
	{"install", "setup"},
	{"automation", "workflow"},
	{"automate", "schedule"},
	{"error", "issue"},
	{"problem", "issue"},
	{"fix", "resolve"},
	{"troubleshoot", "debug"},
	{"create", "add"},
	{"remove", "delete"},
	{"price", "cost"},
	{"guide", "tutorial"},
	{"manual", "documentation"},
	{"start", "begin"},
	{"connect", "integrate"},
}

// tokenize splits text into lowercased words with surrounding punctuation trimmed.
func tokenize(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.ToLower(strings.Trim(w, ".,!?;:'\"-()[]{}/"))
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// keywords returns the distinct non-stopword tokens of text, in order.
func keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range tokenize(text) {
		if stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(text) {
		set[w] = true
	}
	return set
}

// importance weights longer terms higher; short terms are often noise.
func importance(term string) float64 {
	switch n := len(term); {
	case n >= 7:
		return 1.5
	case n >= 4:
		return 1.0
	default:
		return 0.5
	}
}
