package extract

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for receipt reading.
const DefaultModelName = "gemini-2.5-flash"

const receiptPrompt = "You are a receipt reader for a personal expense tracker.\n\n" +
	"Task:\n" +
	"- Read the attached receipt photo.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"total_amount\": number, the grand total paid (after tax and discounts), or null if unreadable\n" +
	"- \"items\": array of objects, each with:\n" +
	"  - \"name\": string, the item description as printed\n" +
	"  - \"price\": number, the line price\n\n" +
	"Rules:\n" +
	"- Use plain numbers without currency symbols or thousands separators.\n" +
	"- If individual items cannot be read, return an empty \"items\" array.\n" +
	"- Do not invent items that are not on the receipt.\n" +
	"- Return ONLY valid raw JSON.\n" +
	"- Do NOT wrap the response in code fences.\n" +
	"- Do NOT use ```json or any Markdown.\n" +
	"- Output must begin with \"{\" and end with \"}\".\n"

// GeminiExtractor implements ReceiptExtractor using the Gemini vision
// API. The GEMINI_API_KEY environment variable (or Application Default
// Credentials) must be configured.
type GeminiExtractor struct {
	model string
}

// NewGeminiExtractor creates an extractor for the given model name.
// An empty model falls back to DefaultModelName.
func NewGeminiExtractor(model string) *GeminiExtractor {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{model: model}
}

// Extract implements ReceiptExtractor. It sends the image inline and
// expects a strict JSON object back, cleaning up Markdown fences if the
// model ignored its instructions.
func (g *GeminiExtractor) Extract(ctx context.Context, image []byte, mimeType string) (map[string]interface{}, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, &Error{Op: "create genai client", Err: err}
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: receiptPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, &Error{Op: "generate content", Err: err}
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, &Error{Op: "read response", Err: errEmptyResponse}
	}

	clean := cleanModelJSON(rawText)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, &Error{Op: "unmarshal response", Err: err}
	}
	return parsed, nil
}

var _ ReceiptExtractor = (*GeminiExtractor)(nil)

// cleanModelJSON strips Markdown fences and surrounding junk from a
// model response that should have been a bare JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only from the first '{' to the last '}' if junk remains.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
