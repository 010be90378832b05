// Package ocr recovers text from scanned report pages through a vision
// LLM. It is a fallback: the pipeline calls it only when native text
// extraction produced too little to work with.
package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/avelarde/labparse/llm"
	"github.com/avelarde/labparse/parser"
)

// minPageChars is the text length below which a page counts as scanned.
const minPageChars = 200

// Client transcribes PDF pages with a vision model.
type Client struct {
	vision    llm.VisionProvider
	maxTokens int
}

func New(vision llm.VisionProvider) *Client {
	return &Client{vision: vision, maxTokens: 8192}
}

// SelectPages returns the page numbers whose extracted text is too short
// to be a real text layer. An empty result means every page looked fine.
func (c *Client) SelectPages(pages []parser.PageText) []int {
	var out []int
	for _, p := range pages {
		if len(strings.TrimSpace(p.Text)) < minPageChars {
			out = append(out, p.Page)
		}
	}
	return out
}

var pageMarkerRE = regexp.MustCompile(`(?m)^===\s*PAGINA\s+(\d+)\s*===\s*$`)

// Pages sends the document to the vision model and returns transcripts
// of the requested pages. The model is asked to delimit each page with a
// marker line; output without markers is attributed to the first page.
func (c *Client) Pages(ctx context.Context, pdfData []byte, pageNums []int) ([]parser.PageText, error) {
	if len(pageNums) == 0 {
		return nil, nil
	}

	b64 := base64.StdEncoding.EncodeToString(pdfData)
	resp, err := c.vision.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: transcriptionPrompt(pageNums)},
					{Type: "image_url", ImageURL: &llm.ImageURL{
						URL: "data:application/pdf;base64," + b64,
					}},
				},
			},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: vision transcription failed: %w", err)
	}

	return splitTranscript(resp.Content, pageNums), nil
}

func transcriptionPrompt(pageNums []int) string {
	nums := make([]string, len(pageNums))
	for i, n := range pageNums {
		nums[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf(`This is a Spanish-language clinical laboratory report. Transcribe pages %s verbatim, line by line, top to bottom.

- Keep every test name, number, unit and reference range exactly as printed.
- Keep each result on its own line; separate table columns with spaces.
- Do not translate, summarize or interpret anything.
- Start each page with a line in the form: === PAGINA n ===`,
		strings.Join(nums, ", "))
}

// splitTranscript cuts the model output at the page markers.
func splitTranscript(content string, pageNums []int) []parser.PageText {
	locs := pageMarkerRE.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		text := strings.TrimSpace(content)
		if text == "" {
			return nil
		}
		return []parser.PageText{{Page: pageNums[0], Text: text}}
	}

	var pages []parser.PageText
	for i, loc := range locs {
		num, err := strconv.Atoi(content[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.TrimSpace(content[loc[1]:end])
		if text != "" {
			pages = append(pages, parser.PageText{Page: num, Text: text})
		}
	}
	return pages
}
