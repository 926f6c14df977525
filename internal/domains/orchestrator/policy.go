package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xpanvictor/vera/pkg/gateway"
)

// Truncate shortens text for speech. Replies longer than max are cut after the
// last sentence-ending mark if that mark sits at or after minBoundary;
// otherwise they are hard-cut at max with an ellipsis appended.
func Truncate(text string, max, minBoundary int) string {
	r := []rune(text)
	if max <= 0 || len(r) <= max {
		return text
	}
	head := r[:max]
	for i := len(head) - 1; i >= minBoundary && i >= 0; i-- {
		switch head[i] {
		case '.', '!', '?':
			return string(head[:i+1])
		}
	}
	return string(head) + "..."
}

// fallbackRule matches phrases anywhere in the text, ignoring spaces, and
// words only as whole words.
type fallbackRule struct {
	class   string
	phrases []string
	words   []string
	reply   string
}

// Rules are tried in order; the last one always matches.
var fallbackRules = []fallbackRule{
	{
		class:   "greeting",
		phrases: []string{"hello"},
		words:   []string{"hi", "hey"},
		reply:   "Hey! I'm here, though my connection is a little shaky right now.",
	},
	{
		class:   "wellbeing",
		phrases: []string{"how are you"},
		reply:   "I'm doing well, thanks for asking. I just can't reach my full brain at the moment.",
	},
	{
		class:   "affection",
		phrases: []string{"love you"},
		reply:   "Aw, that's sweet. I love talking with you too.",
	},
	{
		class:   "call",
		phrases: []string{"call"},
		reply:   "I'd love to place that call, but I can't reach the calling service right now. Try again in a moment.",
	},
	{
		class: "catchall",
		reply: "Sorry, I'm having trouble connecting right now. Give me a moment and try again.",
	},
}

// FallbackReply picks a canned reply for text when the gateway is not
// available. Phrases are substring matches; the short greetings "hi" and
// "hey" need word boundaries so "this" and "they" are not greetings.
func FallbackReply(text string) (class, reply string) {
	norm := normalize(text)
	spaced := " " + norm + " "
	compact := strings.ReplaceAll(norm, " ", "")
	for _, r := range fallbackRules {
		if len(r.phrases) == 0 && len(r.words) == 0 {
			return r.class, r.reply
		}
		for _, w := range r.words {
			if strings.Contains(spaced, " "+w+" ") {
				return r.class, r.reply
			}
		}
		for _, p := range r.phrases {
			if strings.Contains(compact, strings.ReplaceAll(p, " ", "")) {
				return r.class, r.reply
			}
		}
	}
	last := fallbackRules[len(fallbackRules)-1]
	return last.class, last.reply
}

func normalize(text string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(text) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '\'' {
			b.WriteRune(c)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Accepted tool names and parameter aliases for call placement, in lookup order.
var (
	CallToolNames = []string{"phone_call", "make_call", "place_call", "call", "call_phone"}
	PhoneParams   = []string{"phone", "number", "phoneNumber"}
	NameParams    = []string{"name", "contact", "displayName"}
)

const UnknownContact = "Unknown"

var (
	ErrUnknownTool  = errors.New("unrecognised tool")
	ErrMissingPhone = errors.New("call tool without a phone number")
)

type CallInstruction struct {
	Phone string
	Name  string
}

// CallFromTool maps a gateway tool call onto a call instruction.
func CallFromTool(tc gateway.ToolCall) (CallInstruction, error) {
	if !isCallTool(tc.Name) {
		return CallInstruction{}, fmt.Errorf("%w: %s", ErrUnknownTool, tc.Name)
	}
	phone := param(tc.Params, PhoneParams)
	if phone == "" {
		return CallInstruction{}, ErrMissingPhone
	}
	name := param(tc.Params, NameParams)
	if name == "" {
		name = UnknownContact
	}
	return CallInstruction{Phone: phone, Name: name}, nil
}

func isCallTool(name string) bool {
	for _, n := range CallToolNames {
		if n == name {
			return true
		}
	}
	return false
}

func param(params map[string]any, aliases []string) string {
	for _, a := range aliases {
		switch v := params[a].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
