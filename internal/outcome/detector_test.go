package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func followUp(userMsg string) []Turn {
	return []Turn{
		{Role: RoleUser, Content: "how do I parse this file?"},
		{Role: RoleAssistant, Content: "use the csv package like so..."},
		{Role: RoleUser, Content: userMsg},
	}
}

func TestDetect_Worked(t *testing.T) {
	d := Detect(followUp("thanks, that works perfectly"))
	assert.Equal(t, OutcomeWorked, d.Outcome)
	assert.Greater(t, d.Confidence, 0.7)
}

func TestDetect_Failed(t *testing.T) {
	d := Detect(followUp("no, that's wrong, try again"))
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.GreaterOrEqual(t, d.Signals.Negative, 2)
}

func TestDetect_SingleNegative(t *testing.T) {
	d := Detect(followUp("that's an error"))
	assert.Equal(t, OutcomeFailed, d.Outcome)
}

func TestDetect_Partial(t *testing.T) {
	d := Detect(followUp("almost, the first part works but the loop is off"))
	assert.Equal(t, OutcomePartial, d.Outcome)
}

func TestDetect_PositiveWithContinuation(t *testing.T) {
	d := Detect(followUp("perfect, thanks! by the way, what about streaming input?"))
	assert.Equal(t, OutcomeWorked, d.Outcome)
	// Satisfied but moving on: confidence should not be maximal.
	assert.Less(t, d.Confidence, 0.95)
}

func TestDetect_ShortAffirmation(t *testing.T) {
	d := Detect(followUp("nice"))
	assert.Equal(t, OutcomeWorked, d.Outcome)
	assert.InDelta(t, 0.65, d.Confidence, 0.01)
}

func TestDetect_LongFollowUpQuestion(t *testing.T) {
	msg := "I ran the version you suggested against the full dataset and most rows " +
		"come through cleanly, though could you explain how the quoting rules apply " +
		"when a field contains embedded newlines?"
	d := Detect(followUp(msg))
	assert.Equal(t, OutcomePartial, d.Outcome)
}

func TestDetect_Unknown(t *testing.T) {
	d := Detect(followUp("the file is in /tmp/data.csv"))
	assert.Equal(t, OutcomeUnknown, d.Outcome)
	assert.LessOrEqual(t, d.Confidence, 0.3)
}

func TestDetect_SingleMessageConversation(t *testing.T) {
	d := Detect([]Turn{{Role: RoleUser, Content: "hello"}})
	assert.Equal(t, OutcomeUnknown, d.Outcome)
	assert.LessOrEqual(t, d.Confidence, 0.3)
	assert.NotEmpty(t, d.Reason)
}

func TestDetect_EmptyConversation(t *testing.T) {
	d := Detect(nil)
	assert.Equal(t, OutcomeUnknown, d.Outcome)
}

func TestDetect_HebrewWorked(t *testing.T) {
	d := Detect(followUp("מעולה, תודה רבה"))
	assert.Equal(t, OutcomeWorked, d.Outcome)
	assert.Greater(t, d.Confidence, 0.7)
}

func TestDetect_HebrewFailed(t *testing.T) {
	// "לא עובד" must be consumed as a negative before its "עובד" suffix
	// can count as positive.
	d := Detect(followUp("זה לא עובד, יש שגיאה"))
	assert.Equal(t, OutcomeFailed, d.Outcome)
	assert.Zero(t, d.Signals.Positive)
}

func TestDetect_NoProblemIsNotNegative(t *testing.T) {
	d := Detect(followUp("no problem, works great"))
	assert.Equal(t, OutcomeWorked, d.Outcome)
}

func TestIsConversationEnd(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"ok bye", true},
		{"that's all, thanks", true},
		{"להתראות", true},
		{"זה הכל", true},
		{"what about error handling?", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsConversationEnd(tc.msg), "msg=%q", tc.msg)
	}
}

func TestOutcomeValid(t *testing.T) {
	assert.True(t, OutcomeWorked.Valid())
	assert.True(t, OutcomeUnknown.Valid())
	assert.False(t, Outcome("success").Valid())
}
