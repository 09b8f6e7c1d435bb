package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Limits on the markdown pulled into the system message
const (
	maxKnowledgeFiles = 3
	maxKnowledgeChars = 1000
)

const defaultKnowledge = `The portfolio owner is a Lead AI Designer and digital innovation expert.
Their work sits where artificial intelligence and user experience meet: products that understand users, anticipate their needs and feel natural to use.`

// KnowledgeDoc is one markdown file folded into the system message
type KnowledgeDoc struct {
	Name      string
	Path      string
	Content   string
	Truncated bool
}

// LoadKnowledge reads the first markdown files of each directory in dirs,
// in name order. When dirs is set but holds no markdown, a short built-in
// description of the portfolio owner is used instead.
func LoadKnowledge(dirs []string) ([]KnowledgeDoc, error) {
	if len(dirs) == 0 {
		return nil, nil
	}

	var docs []KnowledgeDoc
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("error reading knowledge dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("knowledge path %s is not a directory", dir)
		}

		matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			return nil, fmt.Errorf("error listing knowledge dir %s: %w", dir, err)
		}
		sort.Strings(matches)
		if len(matches) > maxKnowledgeFiles {
			matches = matches[:maxKnowledgeFiles]
		}

		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("error reading knowledge file: %w", err)
			}
			content, truncated := summarize(string(data))
			docs = append(docs, KnowledgeDoc{
				Name:      filepath.Base(path),
				Path:      path,
				Content:   content,
				Truncated: truncated,
			})
		}
	}

	if len(docs) == 0 {
		docs = []KnowledgeDoc{{Name: "default", Content: defaultKnowledge}}
	}
	return docs, nil
}

// summarize keeps the first maxKnowledgeChars characters
func summarize(content string) (string, bool) {
	runes := []rune(content)
	if len(runes) <= maxKnowledgeChars {
		return content, false
	}
	return string(runes[:maxKnowledgeChars]) + "...", true
}

func renderKnowledge(docs []KnowledgeDoc) string {
	var b strings.Builder
	b.WriteString("PORTFOLIO KNOWLEDGE:")
	for _, d := range docs {
		fmt.Fprintf(&b, "\n--- Content of %s ---\n%s\n", d.Name, strings.TrimSpace(d.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}
