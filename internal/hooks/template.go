package hooks

import (
	"mime"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/user/clawgate/internal/types"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_.]+)\}\}`)

// Vars carries named values for message template expansion.
type Vars map[string]string

// Expand replaces {{Name}} placeholders from vars; names that miss are
// looked up as dotted gjson paths into the raw payload ({{commits.0.id}}).
// Placeholders that resolve nowhere are left untouched.
func Expand(tmpl string, vars Vars, payload []byte) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		if len(payload) > 0 {
			if r := gjson.GetBytes(payload, name); r.Exists() {
				return r.String()
			}
		}
		return m
	})
}

var leadingMentionRe = regexp.MustCompile(`^\s*@\S+\s*`)

// EventVars builds the standard placeholder vocabulary from an inbound
// event.
func EventVars(evt *types.InboundEvent, key types.SessionKey, isNew bool) Vars {
	v := Vars{
		"Body":         evt.Body,
		"BodyStripped": leadingMentionRe.ReplaceAllString(evt.Body, ""),
		"From":         evt.From,
		"To":           evt.To,
		"MessageId":    evt.MessageID,
		"SessionId":    string(key),
		"IsNewSession": strconv.FormatBool(isNew),
		"Transcript":   evt.Transcript,
		"ChatType":     string(evt.ChatType),
		"GroupSubject": evt.GroupSubject,
		"SenderName":   evt.SenderName,
		"Surface":      evt.Surface,
	}
	if len(evt.Media) > 0 {
		path := evt.Media[0]
		v["MediaUrl"] = "MEDIA:" + path
		v["MediaPath"] = path
		v["MediaType"] = mime.TypeByExtension(filepath.Ext(path))
	}
	return v
}
