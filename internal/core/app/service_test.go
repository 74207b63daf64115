package app

import (
	"context"
	"sync/atomic"
	"testing"

	"synsched/internal/core/ports"
	"synsched/internal/engine/parser"
)

func TestSessionService_RejectsCancelledContext(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	svc := a.SessionService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Tick(ctx); err == nil {
		t.Fatal("expected Tick to fail on a cancelled context")
	}
	if _, err := svc.OpenContent(ctx, "x.go", "go", nil); err == nil {
		t.Fatal("expected OpenContent to fail on a cancelled context")
	}
}

func TestSessionService_SubscribeReceivesTicks(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	svc := a.SessionService()
	ctx := context.Background()

	if _, err := svc.OpenContent(ctx, "x.go", "go", []byte("package x\n")); err != nil {
		t.Fatal(err)
	}

	var seen atomic.Int32
	if err := svc.Subscribe(ctx, func(u ports.Update) {
		if len(u.Documents) == 1 {
			seen.Add(1)
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := svc.Subscribe(ctx, nil); err == nil {
		t.Fatal("expected nil handler to be rejected")
	}

	for range 3 {
		if _, err := svc.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if seen.Load() != 3 {
		t.Fatalf("expected 3 updates, got %d", seen.Load())
	}
}

func TestSimulator_DrivesEditsAndFocus(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	svc := a.SessionService()
	ctx := context.Background()

	first, _ := svc.OpenContent(ctx, "a.go", "go", []byte("package a\n\nfunc A() {}\n"))
	second, _ := svc.OpenContent(ctx, "b.go", "go", []byte("package b\n"))

	sim := NewSimulator(svc, SimulatorOptions{Seed: 7, TypeEvery: 1, ScrollEvery: 3, FocusEvery: 5})
	for range 10 {
		if err := sim.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 10 {
		t.Fatalf("expected 10 ticks, got %d", snap.Tick)
	}
	total := snap.Documents[0].Version + snap.Documents[1].Version
	// Two documents start at version 1 and one edit lands per step.
	if total != 12 {
		t.Fatalf("expected 10 edits across both documents, versions %d and %d",
			snap.Documents[0].Version, snap.Documents[1].Version)
	}

	focused, ok := sim.Focused(ctx)
	if !ok {
		t.Fatal("expected a focused document")
	}
	// Focus moves at steps 5 and 10, so it is back on the first document.
	if focused != first.ID {
		t.Fatalf("expected focus on %d, got %d (second is %d)", first.ID, focused, second.ID)
	}
}

func TestSimulator_NoDocumentsStillTicks(t *testing.T) {
	a := newTestApp(t, &parser.MockEngine{}, nil)
	sim := NewSimulator(a.SessionService(), DefaultSimulatorOptions())
	if err := sim.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := a.Snapshot().Tick; got != 1 {
		t.Fatalf("expected one tick, got %d", got)
	}
}
