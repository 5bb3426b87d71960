// Package aptitude holds the static aptitude test and scores submitted answers against it.
package aptitude

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed key.yaml
var defaultKey []byte

// Question is one multiple-choice item. Answer stays server side.
type Question struct {
	ID      string   `yaml:"id" json:"id"`
	Aliases []string `yaml:"aliases" json:"-"`
	Prompt  string   `yaml:"prompt" json:"question"`
	Options []string `yaml:"options" json:"options"`
	Answer  string   `yaml:"answer" json:"-"`
}

// Key is an immutable answer key.
type Key struct {
	questions []Question
}

// Default returns the built-in key.
func Default() *Key {
	k, err := Parse(defaultKey)
	if err != nil {
		panic(fmt.Sprintf("aptitude: embedded key: %v", err))
	}
	return k
}

// Parse decodes a YAML answer key.
func Parse(data []byte) (*Key, error) {
	var doc struct {
		Questions []Question `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(doc.Questions) == 0 {
		return nil, errors.New("key has no questions")
	}

	seen := make(map[string]bool)
	for i, q := range doc.Questions {
		if q.ID == "" || q.Answer == "" {
			return nil, fmt.Errorf("question %d: id and answer are required", i)
		}
		for _, name := range append([]string{q.ID}, q.Aliases...) {
			if seen[name] {
				return nil, fmt.Errorf("question %d: duplicate id %q", i, name)
			}
			seen[name] = true
		}
	}
	return &Key{questions: doc.Questions}, nil
}

// Len is the maximum attainable score.
func (k *Key) Len() int { return len(k.questions) }

// Questions returns a copy of the question set with answers removed.
func (k *Key) Questions() []Question {
	out := make([]Question, len(k.questions))
	for i, q := range k.questions {
		out[i] = Question{ID: q.ID, Prompt: q.Prompt, Options: append([]string(nil), q.Options...)}
	}
	return out
}

// Score counts the answers matching the key. Each question is looked up by its id
// first, then by its aliases; unknown keys are ignored.
func (k *Key) Score(answers map[string]string) int {
	score := 0
	for _, q := range k.questions {
		given, ok := answers[q.ID]
		if !ok {
			for _, alias := range q.Aliases {
				if given, ok = answers[alias]; ok {
					break
				}
			}
		}
		if ok && strings.TrimSpace(given) == q.Answer {
			score++
		}
	}
	return score
}
