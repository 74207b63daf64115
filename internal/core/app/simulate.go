package app

import (
	"context"
	"math/rand/v2"

	"synsched/internal/core/ports"
	"synsched/internal/engine/scheduler"
)

var typedSnippets = [][]byte{
	[]byte("x"),
	[]byte(" "),
	[]byte("\n"),
	[]byte("foo"),
	[]byte("()"),
	[]byte("// note\n"),
	[]byte("{\n}"),
}

// SimulatorOptions sets how often, in ticks, each editor action happens.
// Zero disables the action.
type SimulatorOptions struct {
	Seed        uint64
	TypeEvery   int
	ScrollEvery int
	FocusEvery  int
}

func DefaultSimulatorOptions() SimulatorOptions {
	return SimulatorOptions{Seed: 1, TypeEvery: 1, ScrollEvery: 7, FocusEvery: 40}
}

// Simulator produces synthetic editor activity: typing near the viewport,
// scrolling and switching the focused document.
type Simulator struct {
	svc  ports.SessionService
	opts SimulatorOptions
	rng  *rand.Rand
	step int
	// focusIdx indexes the snapshot's document list.
	focusIdx int
}

var _ ports.Simulator = (*Simulator)(nil)

func NewSimulator(svc ports.SessionService, opts SimulatorOptions) *Simulator {
	return &Simulator{
		svc:  svc,
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

func every(step, n int) bool { return n > 0 && step%n == 0 }

// Step performs the actions due this tick and then runs the tick.
func (s *Simulator) Step(ctx context.Context) error {
	s.step++

	snap, err := s.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Documents) > 0 {
		if every(s.step, s.opts.FocusEvery) {
			s.focusIdx = (s.focusIdx + 1) % len(snap.Documents)
			if err := s.svc.Focus(ctx, snap.Documents[s.focusIdx].ID); err != nil {
				return err
			}
		}
		doc := snap.Documents[s.focusIdx%len(snap.Documents)]

		if every(s.step, s.opts.ScrollEvery) {
			span := max(doc.Viewport.Len(), 1)
			if _, err := s.svc.Scroll(ctx, doc.ID, s.rng.IntN(2*span)-span/2); err != nil {
				return err
			}
		}
		if every(s.step, s.opts.TypeEvery) {
			if err := s.typeInto(ctx, doc); err != nil {
				return err
			}
		}
	}

	_, err = s.svc.Tick(ctx)
	return err
}

func (s *Simulator) typeInto(ctx context.Context, doc ports.DocumentView) error {
	pos := doc.Viewport.Start + s.rng.IntN(doc.Viewport.Len()+1)
	pos = min(pos, doc.Size)

	req := ports.EditRequest{Doc: doc.ID, Start: pos, OldEnd: pos}
	if pos < doc.Size && s.rng.IntN(4) == 0 {
		req.OldEnd = pos + 1
	} else {
		req.Insert = typedSnippets[s.rng.IntN(len(typedSnippets))]
	}
	_, err := s.svc.Edit(ctx, req)
	return err
}

// Focused returns the document the simulator is typing into.
func (s *Simulator) Focused(ctx context.Context) (scheduler.DocumentID, bool) {
	snap, err := s.svc.Snapshot(ctx)
	if err != nil || len(snap.Documents) == 0 {
		return 0, false
	}
	for _, doc := range snap.Documents {
		if doc.Focused {
			return doc.ID, true
		}
	}
	return 0, false
}
