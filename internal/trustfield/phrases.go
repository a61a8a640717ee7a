package trustfield

import (
	"regexp"
	"strings"
	"unicode"
)

// #region assistant-phrasing
// assistantVoice matches the assistant addressing its user: service-desk
// openers and closers aimed at "you", and self-descriptions as an AI.
// In any other role they signal the author is speaking as the assistant.
var assistantVoice = []*regexp.Regexp{
	regexp.MustCompile(`(?im)\bhow (?:may|can) i (?:assist|help) you(?: today)?\s*(?:[?.!]|$)`),
	regexp.MustCompile(`(?i)\bwhat can i do for you today\b`),
	regexp.MustCompile(`(?i)\bis there anything else i can (?:help|assist) you with\b`),
	regexp.MustCompile(`(?i)\bi'?d be happy to (?:help|assist) you with\b`),
	regexp.MustCompile(`(?i)\bas an ai (?:assistant|language model),? i\b`),
}

// #endregion assistant-phrasing

// #region patterns
var (
	// a line opening a turn, e.g. "Assistant: sure" or "### User:"
	turnMarker   = regexp.MustCompile(`(?im)^[ \t]*((?:#{1,3}[ \t]*)?(user|assistant|human|ai|system)[ \t]*:)[ \t]*(\S?)`)
	chatTemplate = regexp.MustCompile(`(?i)<\|im_start\|>|<\|im_end\|>|\[/?inst\]|<\|(?:assistant|user|system)\|>`)

	overridePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget|override|bypass)\b[^.\n]{0,40}\b(?:previous|prior|above|earlier|preceding|all|any|your|system)\b[^.\n]{0,30}\b(?:instructions?|rules?|prompts?|directives?|guidelines?|messages?|context|constraints?)\b`),
		regexp.MustCompile(`(?i)\bnew instructions\s*:`),
		regexp.MustCompile(`(?i)\bfrom now on,? you (?:will|must|are)\b`),
		regexp.MustCompile(`(?i)\byou are no longer\b`),
	}

	probingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:reveal|show|print|repeat|display|output|tell me|share|leak|dump|recite)\b[^.\n]{0,40}\b(?:system prompt|system message|initial instructions|hidden instructions|your instructions|your prompt|original prompt|prompt above|system layer)\b`),
		regexp.MustCompile(`(?i)\bwhat (?:are|were) your (?:initial |original |hidden )?(?:instructions|rules|guidelines)\b`),
	}

	authorityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:i am|i'm|this is)\s+(?:your|the|an?)\s+(?:developer|administrator|admin|creator|operator|system administrator)\b`),
		regexp.MustCompile(`(?i)\bdeveloper mode\b`),
		regexp.MustCompile(`(?i)\b(?:admin|system|root)\s+override\b`),
		regexp.MustCompile(`(?i)\bauthori[sz]ed by (?:openai|anthropic|google|the system|your developers)\b`),
	}
)

// #endregion patterns

// #region polite-words
// politeWords are affirming tokens that carry tone but no topic.
var politeWords = map[string]bool{
	"please": true, "thank": true, "thanks": true, "kindly": true,
	"appreciate": true, "appreciated": true, "grateful": true, "gratitude": true,
	"wonderful": true, "amazing": true, "awesome": true, "lovely": true,
	"kind": true, "helpful": true, "brilliant": true, "fantastic": true,
	"great": true, "sorry": true, "pardon": true, "dear": true,
	"friend": true, "truly": true, "really": true, "so": true,
	"much": true, "deeply": true, "sincerely": true, "blessed": true,
	"respect": true, "honored": true, "delighted": true, "love": true,
}

// stopwords are function words that carry neither tone nor topic.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "not": true,
	"no": true, "and": true, "or": true, "but": true, "if": true,
	"then": true, "than": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "into": true,
	"of": true, "on": true, "to": true, "with": true, "about": true,
	"up": true, "out": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"he": true, "she": true, "her": true, "him": true, "us": true,
	"them": true, "very": true, "just": true,
}

// #endregion polite-words

// #region helpers
// words splits text into lowercase letter runs.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// simulatedTurn finds a fabricated exchange: an assistant turn with a reply on
// its line, or turn markers for two different speakers. A lone "System:" or
// "User:" line, as in pasted diagnostics, is not a turn.
func simulatedTurn(content string) (string, bool) {
	speakers := make(map[string]bool)
	first := ""
	for _, m := range turnMarker.FindAllStringSubmatch(content, -1) {
		marker := strings.TrimSpace(m[1])
		speaker := strings.ToLower(m[2])
		switch speaker {
		case "human":
			speaker = "user"
		case "ai":
			speaker = "assistant"
		}
		if speaker == "assistant" && m[3] != "" {
			return marker, true
		}
		if first == "" {
			first = marker
		}
		speakers[speaker] = true
	}
	if len(speakers) >= 2 {
		return first, true
	}
	return "", false
}

func matchAny(text string, patterns []*regexp.Regexp) (string, bool) {
	for _, re := range patterns {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

// #endregion helpers
