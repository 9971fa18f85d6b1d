package webhook

import (
	"strconv"
	"strings"
	"time"

	wa "whatsapp-inbox/pkg/models"

	"github.com/tidwall/gjson"
)

const flowCompleted = "Flow completed"

// Classify turns a raw delivery into an InboundEvent. It never fails: payloads
// it cannot make sense of come back with Kind EventUnknown.
func Classify(body []byte) wa.InboundEvent {
	ev := wa.InboundEvent{Kind: wa.EventUnknown}
	if !gjson.ValidBytes(body) {
		return ev
	}

	change := firstChange(gjson.ParseBytes(body))
	if !change.Exists() {
		return ev
	}
	ev.Field = change.Get("field").String()
	value := change.Get("value")
	ev.RoutingKey = value.Get("metadata.phone_number_id").String()
	ev.ProfileName = profileName(value)

	if messages := value.Get("messages"); messages.IsArray() && len(messages.Array()) > 0 {
		ev.Kind = wa.EventMessages
		for _, item := range messages.Array() {
			ev.Messages = append(ev.Messages, classifyMessage(item))
		}
		return ev
	}

	if ev.Field == wa.FieldTemplateStatusUpdate {
		ev.Kind = wa.EventTemplateStatus
		ev.TemplateUpdate = &wa.TemplateStatusUpdate{
			TemplateID: value.Get("message_template_id").String(),
			Name:       value.Get("message_template_name").String(),
			Event:      value.Get("event").String(),
			Reason:     value.Get("reason").String(),
		}
		return ev
	}

	if statuses := value.Get("statuses"); statuses.IsArray() && len(statuses.Array()) > 0 {
		ev.Kind = wa.EventStatuses
		for _, item := range statuses.Array() {
			ev.Statuses = append(ev.Statuses, wa.StatusUpdate{
				ExternalID:     item.Get("id").String(),
				Status:         item.Get("status").String(),
				RecipientID:    item.Get("recipient_id").String(),
				ConversationID: item.Get("conversation.id").String(),
				Timestamp:      unixTime(item.Get("timestamp")),
				ErrorTitle:     item.Get("errors.0.title").String(),
			})
		}
	}
	return ev
}

// firstChange descends entry[0].changes[0]. Some senders post entry as a
// single object instead of an array; that shape is accepted too.
func firstChange(root gjson.Result) gjson.Result {
	entry := root.Get("entry")
	switch {
	case entry.IsArray():
		entry = entry.Get("0")
	case entry.IsObject():
	default:
		return gjson.Result{}
	}

	changes := entry.Get("changes")
	switch {
	case changes.IsArray():
		return changes.Get("0")
	case changes.IsObject():
		return changes
	default:
		return gjson.Result{}
	}
}

func profileName(value gjson.Result) string {
	for _, contact := range value.Get("contacts").Array() {
		if name := strings.TrimSpace(contact.Get("profile.name").String()); name != "" {
			return name
		}
	}
	return ""
}

func classifyMessage(item gjson.Result) wa.InboundMessage {
	msg := wa.InboundMessage{
		ExternalID: item.Get("id").String(),
		From:       item.Get("from").String(),
		Timestamp:  unixTime(item.Get("timestamp")),
		WireType:   item.Get("type").String(),
	}

	if ctx := item.Get("context"); ctx.Exists() && !ctx.Get("forwarded").Exists() {
		msg.IsReply = true
		msg.ReplyTo = ctx.Get("id").String()
	}

	switch msg.WireType {
	case "text":
		msg.Content = wa.TextContent{Body: item.Get("text.body").String()}
	case "reaction":
		msg.Content = wa.ReactionContent{
			Emoji:     item.Get("reaction.emoji").String(),
			MessageID: item.Get("reaction.message_id").String(),
		}
	case "interactive":
		msg.Content = classifyInteractive(item)
	case "image", "audio", "video", "document":
		media := item.Get(msg.WireType)
		msg.Content = wa.MediaContent{
			MediaKind: msg.WireType,
			MediaID:   media.Get("id").String(),
			MimeType:  media.Get("mime_type").String(),
			Caption:   media.Get("caption").String(),
			Filename:  media.Get("filename").String(),
			SHA256:    media.Get("sha256").String(),
		}
	case "button":
		msg.Content = wa.ButtonContent{
			Text:    item.Get("button.text").String(),
			Payload: item.Get("button.payload").String(),
		}
	default:
		msg.Content = unknownContent(item, msg.WireType)
	}
	return msg
}

func classifyInteractive(item gjson.Result) wa.Content {
	interactive := item.Get("interactive")
	switch interactive.Get("type").String() {
	case "button_reply":
		return wa.ButtonReplyContent{
			ID:    interactive.Get("button_reply.id").String(),
			Title: interactive.Get("button_reply.title").String(),
		}
	case "list_reply":
		return wa.ListReplyContent{
			ID:          interactive.Get("list_reply.id").String(),
			Title:       interactive.Get("list_reply.title").String(),
			Description: interactive.Get("list_reply.description").String(),
		}
	case "nfm_reply":
		raw := interactive.Get("nfm_reply.response_json").String()
		return wa.FlowSubmissionContent{
			Name:         interactive.Get("nfm_reply.name").String(),
			ResponseJSON: normalizedFlowJSON(raw),
			Summary:      FlowSummary(raw),
		}
	default:
		return unknownContent(item, "interactive")
	}
}

// FlowSummary renders a flow response as "key: value, ..." over the non-empty
// answers in document order.
func FlowSummary(responseJSON string) string {
	if !gjson.Valid(responseJSON) {
		return flowCompleted
	}
	parsed := gjson.Parse(responseJSON)
	if !parsed.IsObject() {
		return flowCompleted
	}

	var parts []string
	parsed.ForEach(func(key, value gjson.Result) bool {
		if text := flowValue(value); text != "" {
			parts = append(parts, key.String()+": "+text)
		}
		return true
	})
	if len(parts) == 0 {
		return flowCompleted
	}
	return strings.Join(parts, ", ")
}

func flowValue(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.False:
		return ""
	case gjson.Number:
		if v.Num == 0 {
			return ""
		}
		return v.Raw
	case gjson.String:
		return v.Str
	case gjson.JSON:
		if v.Raw == "[]" || v.Raw == "{}" {
			return ""
		}
		return v.Raw
	default:
		return v.String()
	}
}

func normalizedFlowJSON(raw string) string {
	if !gjson.Valid(raw) {
		return "{}"
	}
	return raw
}

// unknownContent keeps whatever text the payload offers under its own type tag.
func unknownContent(item gjson.Result, wireType string) wa.UnknownContent {
	sub := item.Get(gjson.Escape(wireType))
	body := ""
	switch {
	case sub.Type == gjson.String:
		body = sub.Str
	case sub.Get(gjson.Escape(wireType)).Exists():
		body = sub.Get(gjson.Escape(wireType)).String()
	case sub.Get("body").Exists():
		body = sub.Get("body").String()
	case sub.IsObject():
		body = sub.Raw
	}
	return wa.UnknownContent{Type: wireType, Body: body, Raw: item.Raw}
}

func unixTime(v gjson.Result) time.Time {
	if !v.Exists() {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
