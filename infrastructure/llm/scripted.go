package llm

import (
	"context"
	"fmt"
	"sync"

	"lessonmap-backend/application/ports"
)

// ScriptedReply is one canned provider answer. A non-nil Err makes the call fail.
type ScriptedReply struct {
	Text string
	Err  error
}

// ScriptedGenerator replays canned replies in order and records the
// requests it receives. It backs local development without a provider key
// and the tests of the agents and the HTTP API.
type ScriptedGenerator struct {
	mu       sync.Mutex
	replies  []ScriptedReply
	fallback *ScriptedReply
	requests []ports.GenerationRequest
	// Fragment splits streamed replies into chunks of this many bytes.
	Fragment int
}

func NewScriptedGenerator(replies ...ScriptedReply) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies, Fragment: 16}
}

// Always makes every call beyond the scripted ones return r.
func (s *ScriptedGenerator) Always(r ScriptedReply) *ScriptedGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &r
	return s
}

func (s *ScriptedGenerator) Name() string { return "scripted" }

// Requests returns every request received so far.
func (s *ScriptedGenerator) Requests() []ports.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.GenerationRequest(nil), s.requests...)
}

func (s *ScriptedGenerator) next(req ports.GenerationRequest) (ScriptedReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		return r, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return ScriptedReply{}, fmt.Errorf("scripted: no reply left for call %d", len(s.requests))
}

func (s *ScriptedGenerator) Generate(ctx context.Context, req ports.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := s.next(req)
	if err != nil {
		return "", err
	}
	return r.Text, r.Err
}

func (s *ScriptedGenerator) Stream(ctx context.Context, req ports.GenerationRequest, onFragment func(string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := s.next(req)
	if err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	size := s.Fragment
	if size <= 0 {
		size = len(r.Text)
	}
	for start := 0; start < len(r.Text); start += size {
		end := min(start+size, len(r.Text))
		if err := onFragment(r.Text[start:end]); err != nil {
			return err
		}
	}
	return nil
}
