package consumer

import (
	"context"

	"github.com/baechuer/turn-bridge/internal/models"
	"github.com/baechuer/turn-bridge/internal/urlcheck"
)

// Provider field length limits.
const (
	maxBodyText    = 1024
	maxHeaderText  = 60
	maxFooterText  = 60
	maxButtonID    = 256
	maxButtonTitle = 20
	maxButtons     = 3
	maxListButton  = 20
	maxSections    = 10
	maxRowID       = 200
	maxRowTitle    = 24
)

// renderBody builds the provider message body for an outbound message,
// uploading media where the message calls for it.
func (c *Consumer) renderBody(ctx context.Context, msg *models.Message) (map[string]any, error) {
	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}
	hm := msg.HelperMetadata

	body := map[string]any{"to": msg.ToAddr}

	switch {
	case hm.Truthy("buttons"):
		interactive := map[string]any{
			"type": "button",
			"body": map[string]any{"text": truncate(content, maxBodyText)},
		}

		buttons := hm.StringSlice("buttons")
		if len(buttons) > maxButtons {
			buttons = buttons[:maxButtons]
		}
		rendered := make([]map[string]any, 0, len(buttons))
		for _, opt := range buttons {
			rendered = append(rendered, map[string]any{
				"type": "reply",
				"reply": map[string]any{
					"id":    truncate(opt, maxButtonID),
					"title": truncate(opt, maxButtonTitle),
				},
			})
		}
		interactive["action"] = map[string]any{"buttons": rendered}

		if header := hm.String("header"); header != "" {
			rendered, err := c.renderButtonHeader(ctx, header)
			if err != nil {
				return nil, err
			}
			interactive["header"] = rendered
		}
		if footer := hm.String("footer"); footer != "" {
			interactive["footer"] = map[string]any{"text": truncate(footer, maxFooterText)}
		}

		body["type"] = "interactive"
		body["interactive"] = interactive

	case hm.Truthy("sections"):
		sections := hm.Sections("sections")
		if len(sections) > maxSections {
			sections = sections[:maxSections]
		}
		rendered := make([]map[string]any, 0, len(sections))
		for _, section := range sections {
			rows := make([]map[string]any, 0, len(section.Rows))
			for _, row := range section.Rows {
				r := map[string]any{
					"id":    truncate(row.ID, maxRowID),
					"title": truncate(row.Title, maxRowTitle),
				}
				if row.Description != "" {
					r["description"] = row.Description
				}
				rows = append(rows, r)
			}
			s := map[string]any{"rows": rows}
			if section.Title != "" {
				s["title"] = section.Title
			}
			rendered = append(rendered, s)
		}

		interactive := map[string]any{
			"type": "list",
			"body": map[string]any{"text": truncate(content, maxBodyText)},
			"action": map[string]any{
				"button":   truncate(hm.String("button"), maxListButton),
				"sections": rendered,
			},
		}
		if header := hm.String("header"); header != "" {
			interactive["header"] = map[string]any{
				"type": "text",
				"text": truncate(header, maxHeaderText),
			}
		}
		if footer := hm.String("footer"); footer != "" {
			interactive["footer"] = map[string]any{"text": truncate(footer, maxFooterText)}
		}

		body["type"] = "interactive"
		body["interactive"] = interactive

	case hm.Truthy("document"):
		document := hm.String("document")
		id, _, err := c.media.ID(ctx, document)
		if err != nil {
			return nil, err
		}
		body["type"] = "document"
		body["document"] = map[string]any{
			"id":       id,
			"filename": filenameFromURL(document),
		}

	case hm.Truthy("image"):
		image := hm.String("image")
		id, _, err := c.media.ID(ctx, image)
		if err != nil {
			return nil, err
		}
		rendered := map[string]any{"id": id}
		if content != "" {
			rendered["caption"] = content
		}
		body["type"] = "image"
		body["image"] = rendered

	default:
		body["text"] = map[string]any{"body": content}
	}

	return body, nil
}

// renderButtonHeader builds the header of an interactive-buttons message:
// uploaded media when the value is a URL, plain text otherwise.
func (c *Consumer) renderButtonHeader(ctx context.Context, header string) (map[string]any, error) {
	if !urlcheck.Valid(header) {
		return map[string]any{
			"type": "text",
			"text": truncate(header, maxHeaderText),
		}, nil
	}

	id, contentType, err := c.media.ID(ctx, header)
	if err != nil {
		return nil, err
	}
	switch contentType {
	case "image/jpeg", "image/png":
		return map[string]any{
			"type":  "image",
			"image": map[string]any{"id": id},
		}, nil
	case "video/mp4", "video/3gpp":
		return map[string]any{
			"type":  "video",
			"video": map[string]any{"id": id},
		}, nil
	default:
		return map[string]any{
			"type": "document",
			"document": map[string]any{
				"id":       id,
				"filename": filenameFromURL(header),
			},
		}, nil
	}
}

// truncate limits s to n characters, not bytes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
