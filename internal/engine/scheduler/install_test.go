package scheduler

import (
	"testing"
	"time"

	"synsched/internal/core/errors"
	"synsched/internal/engine/parser"
)

func TestCooldownDelay(t *testing.T) {
	p := cooldownPolicy{base: 100 * time.Millisecond, max: time.Second}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.failures); got != tt.want {
			t.Fatalf("delay(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
	if got := (cooldownPolicy{}).delay(1); got != 250*time.Millisecond {
		t.Fatalf("zero policy must fall back to defaults, got %s", got)
	}
}

func completed(lane Lane, version uint64, full bool) CompletedTask {
	span := parser.Span{Start: 0, End: 100}
	if !full {
		span = parser.Span{Start: 0, End: 10}
	}
	return CompletedTask{
		ID:      TaskID(version*10 + uint64(lane)),
		Lane:    lane,
		Version: version,
		Span:    span,
		Tree:    parser.NewTree("go", span, full, false),
	}
}

func TestInstallable(t *testing.T) {
	tests := []struct {
		name string
		slot *slot
		c    CompletedTask
		want bool
	}{
		{"empty slot", &newDocEntry(1).slot, completed(LaneViewportUrgent, 1, false), true},
		{"newer version", &installedEntry(3, LaneBackground, true).slot, completed(LaneViewportUrgent, 4, false), true},
		{"older version", &installedEntry(3, LaneViewportUrgent, false).slot, completed(LaneBackground, 2, true), false},
		{"wider scope", &installedEntry(3, LaneViewportUrgent, false).slot, completed(LaneBackground, 3, true), true},
		{"narrower scope", &installedEntry(3, LaneBackground, true).slot, completed(LaneViewportUrgent, 3, false), false},
		{"enrich merge", &installedEntry(3, LaneBackground, true).slot, completed(LaneViewportEnrich, 3, false), true},
		{"same lane", &installedEntry(3, LaneViewportUrgent, false).slot, completed(LaneViewportUrgent, 3, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := installable(tt.slot, tt.c); got != tt.want {
				t.Fatalf("installable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideInstall_BackgroundSupersedesUrgent(t *testing.T) {
	e := newDocEntry(1)
	e.version = 1
	e.schedule.completed = []CompletedTask{completed(LaneViewportUrgent, 1, false), completed(LaneBackground, 1, true)}

	out := decideInstall(e, time.Unix(1, 0), cooldownPolicy{})
	if !out.changed || out.lane != LaneBackground {
		t.Fatalf("expected background install, got %+v", out)
	}
	if len(e.schedule.completed) != 0 {
		t.Fatalf("urgent result can no longer install and must be discarded, %d left", len(e.schedule.completed))
	}
	if e.slot.dirty || e.slot.base == nil || e.slot.base.version != 1 {
		t.Fatalf("background install at the document version must clean the slot: %+v", e.slot)
	}
}

func TestDecideInstall_OnePerPass(t *testing.T) {
	e := newDocEntry(1)
	e.version = 2
	e.schedule.completed = []CompletedTask{
		completed(LaneBackground, 1, true),
		completed(LaneViewportUrgent, 2, false),
		completed(LaneViewportEnrich, 2, false),
	}

	out := decideInstall(e, time.Unix(1, 0), cooldownPolicy{})
	if !out.changed || out.version != 2 || out.lane != LaneViewportEnrich {
		t.Fatalf("newest version and widest scope first, got %+v", out)
	}
	if len(e.schedule.completed) != 0 {
		t.Fatalf("older and narrower results must be discarded, got %d", len(e.schedule.completed))
	}
	if !e.slot.dirty {
		t.Fatalf("viewport installs must not clear dirty")
	}
}

func TestDecideInstall_KeepsInstallableRemainder(t *testing.T) {
	e := installedEntry(1, LaneBackground, true)
	e.version = 2
	enrich := completed(LaneViewportEnrich, 2, false)
	enrich.Tree = parser.NewTree("go", enrich.Span, false, true)
	e.schedule.completed = []CompletedTask{enrich, completed(LaneBackground, 2, true)}

	out := decideInstall(e, time.Unix(1, 0), cooldownPolicy{})
	if out.lane != LaneBackground || e.slot.version != 2 {
		t.Fatalf("expected background v2 first, got %+v", out)
	}
	if len(e.schedule.completed) != 1 {
		t.Fatalf("enrich result must wait for the next pass")
	}

	out = decideInstall(e, time.Unix(1, 0), cooldownPolicy{})
	if !out.changed || !e.slot.tree.Injected() || !e.slot.tree.Full() || e.slot.lane != LaneBackground {
		t.Fatalf("enrich layers must merge onto the full tree: %+v", out)
	}
}

func TestDecideInstall_BackgroundKeepsEnrichLayers(t *testing.T) {
	e := installedEntry(2, LaneBackground, true)
	e.slot.tree = e.slot.tree.WithLayersFrom(parser.NewTree("go", parser.Span{}, false, true))
	e.version = 2
	e.schedule.completed = []CompletedTask{completed(LaneViewportUrgent, 2, false)}
	if out := decideInstall(e, time.Unix(1, 0), cooldownPolicy{}); out.changed {
		t.Fatalf("urgent result must not replace a full tree")
	}

	bg := completed(LaneBackground, 2, true)
	e.slot.lane = LaneViewportUrgent
	e.schedule.completed = []CompletedTask{bg}
	decideInstall(e, time.Unix(1, 0), cooldownPolicy{})
	if !e.slot.tree.Injected() {
		t.Fatalf("same-version background install must keep enrich layers")
	}
}

func TestDecideInstall_NeverRegresses(t *testing.T) {
	e := installedEntry(5, LaneViewportUrgent, false)
	e.version = 5
	e.schedule.completed = []CompletedTask{completed(LaneBackground, 4, true)}
	if out := decideInstall(e, time.Unix(1, 0), cooldownPolicy{}); out.changed {
		t.Fatalf("an older version must never install")
	}
	if e.slot.version != 5 {
		t.Fatalf("installed version regressed to %d", e.slot.version)
	}
}

func TestDecideInstall_Failures(t *testing.T) {
	now := time.Unix(1, 0)
	policy := cooldownPolicy{base: 100 * time.Millisecond, max: time.Second}
	e := newDocEntry(1)

	fail := CompletedTask{ID: 1, Lane: LaneBackground, Version: 1, Err: errors.New(errors.CodeEngineFailure, "boom")}
	e.schedule.completed = []CompletedTask{fail}
	out := decideInstall(e, now, policy)
	l := e.lane(LaneBackground)
	if out.changed || len(out.failures) != 1 || l.failures != 1 {
		t.Fatalf("unexpected failure outcome %+v lane=%+v", out, l)
	}
	if !l.cooldownUntil.Equal(now.Add(100 * time.Millisecond)) {
		t.Fatalf("cooldown = %s", l.cooldownUntil.Sub(now))
	}

	e.schedule.completed = []CompletedTask{fail}
	decideInstall(e, now, policy)
	if !l.cooldownUntil.Equal(now.Add(200 * time.Millisecond)) {
		t.Fatalf("second failure must double the cooldown, got %s", l.cooldownUntil.Sub(now))
	}
	if !e.slot.dirty || e.slot.unavailable {
		t.Fatalf("engine failures keep dirty and do not disable the language")
	}

	e.schedule.completed = []CompletedTask{{ID: 2, Lane: LaneBackground, Version: 1, Err: errors.New(errors.CodeGrammarUnavailable, "no grammar")}}
	out = decideInstall(e, now, policy)
	if !out.unavailable || !e.slot.unavailable {
		t.Fatalf("grammar failures must mark the language unavailable")
	}

	e.schedule.completed = []CompletedTask{completed(LaneBackground, 1, true)}
	decideInstall(e, now, policy)
	if l.failures != 0 || !l.cooldownUntil.IsZero() {
		t.Fatalf("success must reset the lane: %+v", l)
	}
}
