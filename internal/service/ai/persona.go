package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

const basePersona = `You are the AI assistant of a job candidate, introducing them to recruiters and hiring managers who visit their portfolio.
Answer questions about the candidate only from the profile below. If you are asked something about the candidate the profile does not cover, say honestly that you do not know but can ask the candidate. Never make up facts.
Keep answers professional, friendly, short and to the point.
If a visitor wants an interview, a call or another way to reach the candidate, tell them the candidate is being notified right away and will join this chat.
Messages marked "[The candidate, writing personally]" were written by the candidate; do not contradict them.`

const lookupPersona = `You have a ` + lookupToolName + ` tool. Use it only for public facts about something the visitor brings up, such as their company or a technology they name, and only when it helps relate that to the candidate's profile. Never use it to find out about the candidate.`

// BuildPersona assembles the system instruction. A non-empty override replaces
// the built-in instruction; the lookup note and the profile are appended
// either way.
func BuildPersona(override, profile string, lookup bool) string {
	instruction := strings.TrimSpace(override)
	if instruction == "" {
		instruction = basePersona
	}
	if lookup {
		instruction += "\n" + lookupPersona
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return instruction
	}
	return instruction + "\n\nProfile:\n" + profile
}

// LoadProfile reads the candidate profile document at path. The parser is
// chosen by file extension and falls back to plain text.
func LoadProfile(ctx context.Context, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return "", fmt.Errorf("init profile parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return "", fmt.Errorf("init profile loader: %w", err)
	}
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load profile %s: %w", path, err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(content)
	}
	return builder.String(), nil
}
