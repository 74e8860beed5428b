package chat

import (
	"encoding/base64"
	"encoding/json"

	"chatrelay/internal/upstream"
)

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imagePart struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type filePart struct {
	Type string `json:"type"`
	File struct {
		Filename string `json:"filename"`
		FileData string `json:"file_data"`
	} `json:"file"`
}

// buildEnvelopeMessages converts chat history into the relay envelope,
// excluding the in-flight assistant placeholder. Staged attachments are
// encoded as typed content parts on the just-sent user message only.
func buildEnvelopeMessages(messages []Message, skipID, userMsgID string, attachments []Attachment) []upstream.Message {
	out := make([]upstream.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == skipID {
			continue
		}
		if m.ID == userMsgID && len(attachments) > 0 {
			out = append(out, upstream.Message{Role: m.Role, Content: contentParts(m.Content, attachments)})
			continue
		}
		out = append(out, upstream.Message{Role: m.Role, Content: rawJSON(m.Content)})
	}
	return out
}

func contentParts(text string, attachments []Attachment) json.RawMessage {
	parts := make([]any, 0, len(attachments)+1)
	if text != "" {
		parts = append(parts, textPart{Type: "text", Text: text})
	}
	for _, att := range attachments {
		switch att.Type {
		case AttachmentImage:
			p := imagePart{Type: "image_url"}
			p.ImageURL.URL = dataURL(att)
			parts = append(parts, p)
		case AttachmentPDF:
			p := filePart{Type: "file"}
			p.File.Filename = att.Name
			p.File.FileData = dataURL(att)
			parts = append(parts, p)
		}
	}
	return rawJSON(parts)
}

func dataURL(att Attachment) string {
	return "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
}

func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}
