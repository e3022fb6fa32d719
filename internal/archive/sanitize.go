package archive

import (
	"regexp"
	"strings"
)

const (
	maxPromptLen   = 240
	truncateMarker = "_trunc"
)

var (
	sentenceBreaks = strings.NewReplacer(". ", "_", ", ", "_", ".", "_", ",", "_")
	unsafeChars    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// SanitizePrompt 将提示词转换为可用作文件名的片段
func SanitizePrompt(prompt string) string {
	s := sentenceBreaks.Replace(prompt)
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeChars.ReplaceAllString(s, "")
	if strings.HasSuffix(s, "_") || strings.HasSuffix(s, "-") {
		s = s[:len(s)-1]
	}
	if len(s) > maxPromptLen {
		s = s[:maxPromptLen] + truncateMarker
	}
	return s
}

// ArtifactName 构造不含扩展名的文件名 <id>-<提示词>
func ArtifactName(id, prompt string) string {
	p := SanitizePrompt(prompt)
	if p == "" {
		return id
	}
	return id + "-" + p
}
