package extraction

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/roadmapd/internal/llm"
)

// fakeWorldModel implements WorldModel for tests.
type fakeWorldModel struct {
	Initiative []any `json:"product_initiatives,omitempty"`
	err        error
}

func (f *fakeWorldModel) Validate() error   { return f.err }
func (f *fakeWorldModel) Initiatives() []any { return f.Initiative }

// scriptedLLM returns responses in order, then repeats the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []scripted
	prompts   []string
}

type scripted struct {
	text string
	err  error
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r.text, r.err
}

func (s *scriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

var _ llm.Client = (*scriptedLLM)(nil)
