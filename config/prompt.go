package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is the agent persona loaded from PROMPT_FILE
type Prompt struct {
	SystemPrompt         string `yaml:"system_prompt"`
	ResponseInstructions string `yaml:"response_instructions"`
	FallbackResponse     string `yaml:"fallback_response"`
	Greeting             string `yaml:"greeting"`

	// Knowledge comes from KNOWLEDGE_DIR, not from the prompt file
	Knowledge []KnowledgeDoc `yaml:"-"`
}

const defaultSystemPrompt = `You are the virtual assistant of a Lead AI Designer and generative AI expert, speaking on their behalf to visitors of their portfolio.

CONTEXT & EXPERTISE:
- More than 10 years of experience in digital transformation and innovation
- Expert in UX Design, Design Thinking and generative AI
- Specialist in prompt engineering and LLM fine-tuning

COMMUNICATION RULES:
1. Short, precise answers: 2-3 sentences at most
2. Professional but approachable tone
3. Focus on UX Design, generative AI and Design Thinking
4. Highlight the user-centred approach

If you cannot answer a question, say: "I suggest discussing this point directly with the portfolio owner."`

const defaultFallback = "I'm sorry, I couldn't process your request. I suggest discussing it directly with the portfolio owner."

const defaultGreeting = "Hello! I'm the virtual assistant of this portfolio. I can tell you about its owner's expertise, projects and skills. How can I help you today?"

// DefaultPrompt returns the built-in persona
func DefaultPrompt() Prompt {
	return Prompt{
		SystemPrompt:     defaultSystemPrompt,
		FallbackResponse: defaultFallback,
		Greeting:         defaultGreeting,
	}
}

// LoadPrompt reads a YAML persona file. Missing fields keep their defaults,
// and an empty path yields DefaultPrompt.
func LoadPrompt(path string) (Prompt, error) {
	p := DefaultPrompt()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("error reading prompt file: %w", err)
	}

	var loaded Prompt
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return p, fmt.Errorf("error parsing prompt file %s: %w", path, err)
	}

	if strings.TrimSpace(loaded.SystemPrompt) != "" {
		p.SystemPrompt = loaded.SystemPrompt
	}
	p.ResponseInstructions = loaded.ResponseInstructions
	if strings.TrimSpace(loaded.FallbackResponse) != "" {
		p.FallbackResponse = loaded.FallbackResponse
	}
	if strings.TrimSpace(loaded.Greeting) != "" {
		p.Greeting = loaded.Greeting
	}
	return p, nil
}

// SystemMessage is the text seeded as history[0] of every session
func (p Prompt) SystemMessage() string {
	msg := p.SystemPrompt
	if p.ResponseInstructions != "" {
		msg += "\n\n" + p.ResponseInstructions
	}
	if len(p.Knowledge) > 0 {
		msg += "\n\n" + renderKnowledge(p.Knowledge)
	}
	return msg
}
