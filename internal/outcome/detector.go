// Package outcome infers the result of a conversational exchange when no
// explicit user feedback exists.
//
// The detector is pure and stateless: it scans the most recent user message
// that follows an assistant message against bilingual (English and Hebrew)
// keyword sets and a pair of length heuristics, and classifies the prior
// turn as worked, failed, partial or unknown with a confidence value.
// It never returns an error; when there is nothing to classify it degrades
// to unknown with a low confidence and an explanatory reason.
package outcome

import "strings"

// Outcome is the classified result of a conversational exchange.
type Outcome string

const (
	// OutcomeWorked indicates the prior response solved the user's problem.
	OutcomeWorked Outcome = "worked"

	// OutcomeFailed indicates the prior response did not help.
	OutcomeFailed Outcome = "failed"

	// OutcomePartial indicates a mixed or hedged result.
	OutcomePartial Outcome = "partial"

	// OutcomeUnknown indicates no signal could be extracted.
	OutcomeUnknown Outcome = "unknown"
)

// Valid reports whether o is one of the four defined outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWorked, OutcomeFailed, OutcomePartial, OutcomeUnknown:
		return true
	}
	return false
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversation message.
type Turn struct {
	Role    Role
	Content string
}

// Signals holds the raw keyword counts behind a detection, kept for
// debugging and for confidence attribution downstream.
type Signals struct {
	Positive     int
	Negative     int
	Partial      int
	Continuation int
}

// Detection is the result of classifying a follow-up message.
type Detection struct {
	Outcome    Outcome
	Confidence float64
	Reason     string
	Signals    Signals
}

// Keyword sets. Matching is case-insensitive substring containment, applied
// in masking order (negative, partial, continuation, positive) so that a
// phrase like "לא עובד" is consumed as negative before its "עובד" suffix can
// count as positive.
var (
	negativePhrases = []string{
		"doesn't work", "does not work", "didn't work", "not working",
		"still broken", "still not", "still fails", "wrong", "incorrect",
		"error", "failed", "fails", "broken", "crash", "try again",
		"nope", "useless", "that's not it", "not what i",
		// Hebrew
		"לא עובד", "לא עבד", "שגיאה", "נכשל", "טעות", "לא נכון",
		"שבור", "עדיין לא", "נסה שוב", "לא טוב", "לא זה",
	}

	partialPhrases = []string{
		"partially", "almost", "sort of", "kind of", "not quite",
		"mostly", "somewhat", "better but", "but ", "however", "except",
		"one issue", "one problem",
		// Hebrew
		"כמעט", "חלקית", "בערך", "לא בדיוק", "אבל ", "חוץ מזה",
	}

	continuationPhrases = []string{
		"also", "what about", "how about", "next question", "another thing",
		"one more", "by the way", "btw", "moving on", "now i need",
		"now let's", "and then", "new question",
		// Hebrew
		"מה לגבי", "דרך אגב", "שאלה נוספת", "בנוסף", "עוד דבר",
		"עכשיו אני", "ומה עם",
	}

	positivePhrases = []string{
		"thanks", "thank you", "thx", "perfect", "great", "awesome",
		"excellent", "amazing", "works", "worked", "working now",
		"solved", "fixed", "got it", "exactly", "perfectly", "nice",
		"that helped", "no problem", "brilliant",
		// Hebrew
		"תודה", "מעולה", "עובד", "עבד", "מושלם", "נהדר", "יופי",
		"בדיוק", "הסתדר", "נפתר", "אחלה", "סבבה", "עזר לי",
	}

	endingPhrases = []string{
		"bye", "goodbye", "good night", "see you", "that's all",
		"that is all", "we're done", "talk later", "gtg", "gotta go",
		// Hebrew
		"ביי", "להתראות", "זה הכל", "לילה טוב", "סיימנו", "נדבר",
	}
)

const (
	// shortAffirmationWords is the word-count ceiling for the short-reply
	// affirmation heuristic.
	shortAffirmationWords = 4

	// longFollowUpChars is the length floor for the detailed-follow-up
	// heuristic.
	longFollowUpChars = 120

	maxConfidence        = 0.95
	unknownConfidence    = 0.2
	continuationDiscount = 0.15
)

// Detect classifies the likely result of the prior assistant turn.
//
// It finds the most recent user message that directly follows an assistant
// message. If none exists (e.g. the conversation just started), it returns
// unknown with low confidence and a reason string; it never fails.
func Detect(turns []Turn) Detection {
	msg, ok := latestFollowUp(turns)
	if !ok {
		return Detection{
			Outcome:    OutcomeUnknown,
			Confidence: unknownConfidence,
			Reason:     "no user message following an assistant message",
		}
	}

	lower := strings.ToLower(strings.TrimSpace(msg))
	sig := Signals{}

	var masked string
	sig.Negative, masked = countAndMask(lower, negativePhrases)
	sig.Partial, masked = countAndMask(masked, partialPhrases)
	sig.Continuation, masked = countAndMask(masked, continuationPhrases)
	sig.Positive, _ = countAndMask(masked, positivePhrases)

	isQuestion := strings.Contains(lower, "?")
	shortReply := len(strings.Fields(lower)) <= shortAffirmationWords && !isQuestion
	longFollowUp := len(lower) >= longFollowUpChars && isQuestion

	// A long message ending in a question reads as a detailed follow-up:
	// the answer was usable but incomplete.
	if longFollowUp {
		sig.Partial++
	}

	d := classify(sig, shortReply)
	d.Signals = sig
	return d
}

// classify applies the precedence rules over the signal counts.
func classify(sig Signals, shortReply bool) Detection {
	switch {
	case sig.Negative >= 2 || (sig.Negative == 1 && sig.Positive == 0):
		conf := scaleConfidence(sig.Negative)
		return Detection{
			Outcome:    OutcomeFailed,
			Confidence: conf,
			Reason:     "negative signals dominate",
		}

	case sig.Positive >= 2 && sig.Negative == 0:
		conf := scaleConfidence(sig.Positive)
		reason := "multiple positive signals"
		if sig.Continuation > 0 {
			// Satisfied but already moving on; confidence is capped
			// below maximal.
			conf -= continuationDiscount
			reason = "positive signals with topic continuation"
		}
		return Detection{Outcome: OutcomeWorked, Confidence: conf, Reason: reason}

	case sig.Partial > 0 || (sig.Positive > 0 && (sig.Negative > 0 || sig.Continuation > 0)):
		return Detection{
			Outcome:    OutcomePartial,
			Confidence: 0.6,
			Reason:     "hedged or mixed signals",
		}

	case sig.Positive == 1 && shortReply:
		return Detection{
			Outcome:    OutcomeWorked,
			Confidence: 0.65,
			Reason:     "short affirmation",
		}

	case sig.Positive == 1:
		return Detection{
			Outcome:    OutcomeWorked,
			Confidence: 0.55,
			Reason:     "single positive signal",
		}

	default:
		return Detection{
			Outcome:    OutcomeUnknown,
			Confidence: unknownConfidence + 0.1,
			Reason:     "no classifiable signals",
		}
	}
}

// IsConversationEnd reports whether the message reads as a farewell, used to
// auto-finalize a conversation independent of outcome classification.
func IsConversationEnd(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return false
	}
	for _, p := range endingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// latestFollowUp returns the most recent user message directly preceded by
// an assistant message.
func latestFollowUp(turns []Turn) (string, bool) {
	for i := len(turns) - 1; i >= 1; i-- {
		if turns[i].Role == RoleUser && turns[i-1].Role == RoleAssistant {
			return turns[i].Content, true
		}
	}
	return "", false
}

// countAndMask counts occurrences of each phrase in msg, blanking every match
// so later passes cannot double-count overlapping substrings.
func countAndMask(msg string, phrases []string) (int, string) {
	count := 0
	for _, p := range phrases {
		for {
			idx := strings.Index(msg, p)
			if idx < 0 {
				break
			}
			count++
			msg = msg[:idx] + strings.Repeat(" ", len(p)) + msg[idx+len(p):]
		}
	}
	return count, msg
}

// scaleConfidence maps a signal count to a confidence value, capped so no
// heuristic classification ever claims certainty.
func scaleConfidence(count int) float64 {
	conf := 0.5 + 0.15*float64(count)
	if conf > maxConfidence {
		conf = maxConfidence
	}
	return conf
}
