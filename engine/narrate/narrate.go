// Package narrate defines the boundary to the external prose
// generator. The engine never trusts what comes back across it: prose
// is surfaced verbatim, but any proposed delta goes through the
// validator before it can touch state.
package narrate

import (
	"context"
	"encoding/json"
	"errors"
)

// Request is the turn context handed to a generator.
type Request struct {
	GameID    string   `json:"game_id"`
	RunID     string   `json:"run_id"`
	Turn      int      `json:"turn"`
	Node      string   `json:"node"`
	Authored  string   `json:"authored"`
	Event     string   `json:"event,omitempty"`
	Memory    []string `json:"memory,omitempty"`
	// RetryReason is set on the second attempt after an unparseable
	// delta, so the generator can correct itself.
	RetryReason string `json:"retry_reason,omitempty"`
}

// Response is a generator's reply: free prose plus an optional raw
// delta payload for the validator.
type Response struct {
	Prose string          `json:"prose"`
	Delta json.RawMessage `json:"delta,omitempty"`
}

// Generator produces prose (and optionally a state delta) for a turn.
// It is the only asynchronous collaborator in a turn; the engine
// suspends until it answers or its context expires.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Null echoes the authored text and proposes nothing. It is the
// fallback when no external generator is configured.
type Null struct{}

func (Null) Generate(_ context.Context, req Request) (Response, error) {
	return Response{Prose: req.Authored}, nil
}

// ErrScriptExhausted is returned by Scripted when its replies run out.
var ErrScriptExhausted = errors.New("scripted generator exhausted")

// Scripted replays a fixed sequence of responses. Used by replay
// verification and tests, where the external call must be a pure
// function of call order.
type Scripted struct {
	Responses []Response
	next      int
}

func (g *Scripted) Generate(_ context.Context, _ Request) (Response, error) {
	if g.next >= len(g.Responses) {
		return Response{}, ErrScriptExhausted
	}
	r := g.Responses[g.next]
	g.next++
	return r, nil
}
