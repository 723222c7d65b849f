package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PersonaItem is a single labelled persona attribute, e.g. "Hair Color: auburn".
type PersonaItem struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// PersonaSection groups attributes under a heading in the generation context.
type PersonaSection struct {
	Title string        `yaml:"title"`
	Items []PersonaItem `yaml:"items"`
}

// ContentFilters lists the blocked topics and the deflections used when they fire.
type ContentFilters struct {
	BlockedTopics []string `yaml:"blocked_topics"`
	SafeResponses []string `yaml:"safe_responses"`
}

// FallbackReplies are in-character excuses returned when generation fails.
// Each list is keyed by the kind of backend failure.
type FallbackReplies struct {
	Timeout    []string `yaml:"timeout"`
	Connection []string `yaml:"connection"`
	Upstream   []string `yaml:"upstream"`
	Generic    []string `yaml:"generic"`
}

// Persona is the fixed character profile and content policy, loaded once at
// process start from YAML.
type Persona struct {
	Name                 string           `yaml:"name"`
	Description          string           `yaml:"description"`
	Sections             []PersonaSection `yaml:"sections"`
	StyleRules           []string         `yaml:"style_rules"`
	ConversationRules    []string         `yaml:"conversation_rules"`
	SafetyRules          []string         `yaml:"safety_rules"`
	ContentFilters       ContentFilters   `yaml:"content_filters"`
	PlaceholderNicknames []string         `yaml:"placeholder_nicknames"`
	FallbackReplies      FallbackReplies  `yaml:"fallback_replies"`
}

// Built-in defaults for lists the YAML may omit. Deflections default inside
// the safety filter.
var (
	DefaultPlaceholderNicknames = []string{"Cutie", "Babe", "Good Looking"}

	DefaultFallbackReplies = FallbackReplies{
		Timeout:    []string{"Babe, my phone is taking forever to load... try again later? ;)"},
		Connection: []string{"Babe, my internet is acting up... try again in a bit? ;)"},
		Upstream:   []string{"Babe, my phone is acting up... try again in a sec? ;)"},
		Generic:    []string{"Babe, something went wrong with my phone... try again soon? ;)"},
	}
)

// LoadPersona reads and validates the persona YAML at path and fills
// defaults for omitted lists.
func LoadPersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona config: %w", err)
	}
	return ParsePersona(data)
}

// ParsePersona decodes persona YAML from memory.
func ParsePersona(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona config: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

func (p *Persona) applyDefaults() {
	p.ContentFilters.BlockedTopics = lowerAll(trimAll(p.ContentFilters.BlockedTopics))
	p.ContentFilters.SafeResponses = trimAll(p.ContentFilters.SafeResponses)
	if p.PlaceholderNicknames == nil {
		p.PlaceholderNicknames = append([]string(nil), DefaultPlaceholderNicknames...)
	}
	fb := &p.FallbackReplies
	fb.Timeout = trimAll(fb.Timeout)
	fb.Connection = trimAll(fb.Connection)
	fb.Upstream = trimAll(fb.Upstream)
	fb.Generic = trimAll(fb.Generic)
	if len(fb.Timeout) == 0 {
		fb.Timeout = DefaultFallbackReplies.Timeout
	}
	if len(fb.Connection) == 0 {
		fb.Connection = DefaultFallbackReplies.Connection
	}
	if len(fb.Upstream) == 0 {
		fb.Upstream = DefaultFallbackReplies.Upstream
	}
	if len(fb.Generic) == 0 {
		fb.Generic = DefaultFallbackReplies.Generic
	}
}

// Validate reports configuration that would break reply generation.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("persona: name must not be empty")
	}
	for i, s := range p.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("persona: section %d has no title", i)
		}
	}
	for _, n := range p.PlaceholderNicknames {
		if strings.TrimSpace(n) == "" {
			return errors.New("persona: placeholder nicknames must not be blank")
		}
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}
