package generation

import (
	"fmt"
	"strings"
)

const (
	titleSystemPrompt = "You write short, specific, search-friendly video titles. " +
		"Answer with the title only: no quotes, no hashtags, at most 100 characters."
	descriptionSystemPrompt = "You write video descriptions for a video sharing site. " +
		"Summarise what the viewer will see in two or three short paragraphs. Plain text only, no hashtags."
	thumbnailSystemPrompt = "You write prompts for an image model that produces video thumbnails. " +
		"Describe one striking 16:9 scene in a single paragraph. Never ask for text or lettering in the image."
)

func titlePrompt(video VideoSnapshot, transcript string) (string, string) {
	return titleSystemPrompt, contextBlock(video, transcript)
}

func descriptionPrompt(video VideoSnapshot, transcript string) (string, string) {
	return descriptionSystemPrompt, contextBlock(video, transcript)
}

func thumbnailPrompt(video VideoSnapshot, transcript string) (string, string) {
	return thumbnailSystemPrompt, contextBlock(video, transcript)
}

func contextBlock(video VideoSnapshot, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current title: %s\n", orNone(video.Title))
	if video.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", video.Category)
	}
	if video.Description != "" {
		fmt.Fprintf(&b, "Current description: %s\n", video.Description)
	}
	fmt.Fprintf(&b, "Transcript:\n%s\n", orNone(transcript))
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
