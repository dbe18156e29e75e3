package assistant

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Templates is the topic table and the canned text per tier.
type Templates struct {
	FallbackTopic string    `yaml:"fallback_topic"`
	Prompts       TierText  `yaml:"prompts"`
	Disclaimers   TierText  `yaml:"disclaimers"`
	Confidence    TierRange `yaml:"confidence"`
	Fallback      TierText  `yaml:"fallback"`
	Topics        []Topic   `yaml:"topics"`
}

// TierText holds one string per tier.
type TierText struct {
	Free string `yaml:"free"`
	Pro  string `yaml:"pro"`
}

func (t TierText) For(pro bool) string {
	if pro {
		return t.Pro
	}
	return t.Free
}

// Range is an inclusive percentage range.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// TierRange holds the confidence range per tier.
type TierRange struct {
	Free Range `yaml:"free"`
	Pro  Range `yaml:"pro"`
}

func (t TierRange) For(pro bool) Range {
	if pro {
		return t.Pro
	}
	return t.Free
}

// Topic is one legal area with the keywords that select it.
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Free     string   `yaml:"free"`
	Pro      string   `yaml:"pro"`
}

// DefaultTemplates returns the built-in table.
func DefaultTemplates() *Templates {
	t, err := ParseTemplates(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("assistant: embedded templates: %v", err))
	}
	return t
}

// LoadTemplates reads a table from a YAML file.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assistant: read templates: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a YAML table.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("assistant: parse templates: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	for i := range t.Topics {
		for j, kw := range t.Topics[i].Keywords {
			t.Topics[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &t, nil
}

// Validate checks that every tier has text and the ranges make sense.
func (t *Templates) Validate() error {
	var errs []error
	if t.FallbackTopic == "" {
		errs = append(errs, errors.New("fallback_topic is empty"))
	}
	if t.Fallback.Free == "" || t.Fallback.Pro == "" {
		errs = append(errs, errors.New("fallback needs free and pro text"))
	}
	for _, r := range []Range{t.Confidence.Free, t.Confidence.Pro} {
		if r.Min < 0 || r.Max > 100 || r.Min > r.Max {
			errs = append(errs, fmt.Errorf("confidence range %d..%d out of 0..100", r.Min, r.Max))
		}
	}
	seen := make(map[string]bool, len(t.Topics))
	for _, topic := range t.Topics {
		switch {
		case topic.Name == "":
			errs = append(errs, errors.New("topic without name"))
		case seen[topic.Name]:
			errs = append(errs, fmt.Errorf("topic %q listed twice", topic.Name))
		case len(topic.Keywords) == 0:
			errs = append(errs, fmt.Errorf("topic %q has no keywords", topic.Name))
		case topic.Free == "" || topic.Pro == "":
			errs = append(errs, fmt.Errorf("topic %q needs free and pro text", topic.Name))
		}
		seen[topic.Name] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("assistant: invalid templates: %w", err)
	}
	return nil
}

// Detect returns the first topic with a keyword contained in message, or the
// fallback topic.
func (t *Templates) Detect(message string) string {
	msg := strings.ToLower(message)
	for _, topic := range t.Topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(msg, kw) {
				return topic.Name
			}
		}
	}
	return t.FallbackTopic
}

// Answer returns the canned answer for topic at the given tier.
func (t *Templates) Answer(topic string, pro bool) string {
	for _, tp := range t.Topics {
		if tp.Name == topic {
			return TierText{Free: tp.Free, Pro: tp.Pro}.For(pro)
		}
	}
	return t.Fallback.For(pro)
}
