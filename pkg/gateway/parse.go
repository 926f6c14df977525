package gateway

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Accepted field aliases, in lookup order. The gateway schema has drifted
// between releases; every alias below is part of the wire contract.
var (
	ReplyEvents     = []string{"message.responded", "message.reply", "chat.response", "agent.response"}
	TextFields      = []string{"text", "content"}
	ToolCallFields  = []string{"toolCalls", "tool_calls"}
	ToolNameFields  = []string{"name", "tool"}
	ToolParamFields = []string{"params", "arguments"}
)

// ToolCall is a side-effecting instruction embedded in a reply.
type ToolCall struct {
	Name   string
	Params map[string]any
}

// Reply is a parsed gateway response.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// IsReplyEvent reports whether an event name carries a reply.
func IsReplyEvent(name string) bool {
	for _, e := range ReplyEvents {
		if e == name {
			return true
		}
	}
	return false
}

// ParseReply reads a reply payload leniently. ok is false when the payload
// carries neither text nor tool calls.
func ParseReply(payload []byte) (Reply, bool) {
	if !gjson.ValidBytes(payload) {
		return Reply{}, false
	}
	root := gjson.ParseBytes(payload)

	var reply Reply
	reply.Text = textOf(root)

	if calls, found := first(root, ToolCallFields); found && calls.IsArray() {
		for _, c := range calls.Array() {
			name, _ := first(c, ToolNameFields)
			if name.String() == "" {
				continue
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				Name:   name.String(),
				Params: paramsOf(c),
			})
		}
	}

	return reply, reply.Text != "" || len(reply.ToolCalls) > 0
}

// first returns the first alias present on r.
func first(r gjson.Result, aliases []string) (gjson.Result, bool) {
	for _, a := range aliases {
		if v := r.Get(gjson.Escape(a)); v.Exists() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func textOf(root gjson.Result) string {
	v, ok := first(root, TextFields)
	if !ok {
		return ""
	}
	// content may be a list of typed parts
	if v.IsArray() {
		var parts []string
		for _, p := range v.Array() {
			if t := p.Get("text"); t.Type == gjson.String {
				parts = append(parts, t.String())
			} else if p.Type == gjson.String {
				parts = append(parts, p.String())
			}
		}
		return strings.Join(parts, "")
	}
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

func paramsOf(call gjson.Result) map[string]any {
	v, ok := first(call, ToolParamFields)
	if !ok {
		return map[string]any{}
	}
	// arguments are sometimes a JSON document encoded as a string
	if v.Type == gjson.String && gjson.Valid(v.String()) {
		v = gjson.Parse(v.String())
	}
	if !v.IsObject() {
		return map[string]any{}
	}
	params, ok := v.Value().(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return params
}
