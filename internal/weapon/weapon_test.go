package weapon

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
)

func TestParseKindAliases(t *testing.T) {
	cases := map[string]Kind{
		"mine":   KindMine,
		"M_MINE": KindMine,
		"alm":    KindALM,
		"WGT":    KindWGT,
		"N/A":    KindNone,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseKind("railgun"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("ParseKind(railgun) err = %v, want ErrUnknownKind", err)
	}
}

func TestParseControlState(t *testing.T) {
	for _, s := range States() {
		got, err := ParseControlState(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseControlState(%q) = %v, %v", s, got, err)
		}
	}
	if got, _ := ParseControlState("rtl"); got != StateReadyToLaunch {
		t.Fatalf("ParseControlState(rtl) = %v, want READY_TO_LAUNCH", got)
	}
	if _, err := ParseControlState("FIRE"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("ParseControlState(FIRE) err = %v, want ErrUnknownState", err)
	}
}

func TestAssignmentValidate(t *testing.T) {
	target := &geo.Point{Lat: 35, Lon: 129}
	cases := []struct {
		name string
		a    Assignment
		ok   bool
	}{
		{"mine with plan", Assignment{Tube: 1, Kind: KindMine, DropPlan: &DropPlanRef{List: 1, Number: 15}}, true},
		{"mine without plan", Assignment{Tube: 1, Kind: KindMine}, false},
		{"mine plan out of range", Assignment{Tube: 1, Kind: KindMine, DropPlan: &DropPlanRef{List: 0, Number: 3}}, false},
		{"mine plan number too high", Assignment{Tube: 1, Kind: KindMine, DropPlan: &DropPlanRef{List: 2, Number: 16}}, false},
		{"mine with target", Assignment{Tube: 1, Kind: KindMine, DropPlan: &DropPlanRef{List: 1, Number: 1}, Target: target}, false},
		{"missile by position", Assignment{Tube: 2, Kind: KindASM, Target: target}, true},
		{"missile by track", Assignment{Tube: 2, Kind: KindASM, TrackID: 42}, true},
		{"missile with both", Assignment{Tube: 2, Kind: KindASM, Target: target, TrackID: 42}, false},
		{"missile with plan", Assignment{Tube: 2, Kind: KindASM, DropPlan: &DropPlanRef{List: 1, Number: 1}}, false},
		{"no kind", Assignment{Tube: 2, Target: target}, false},
		{"no tube", Assignment{Kind: KindASM, Target: target}, false},
	}
	for _, tc := range cases {
		err := tc.a.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: Validate() = %v, want nil", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAssignment) {
			t.Fatalf("%s: Validate() = %v, want ErrInvalidAssignment", tc.name, err)
		}
	}
}

func TestAssignmentEqualComparesSelectors(t *testing.T) {
	a := Assignment{Tube: 1, Kind: KindMine, DropPlan: &DropPlanRef{List: 1, Number: 2}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("clone should be equal")
	}
	b.DropPlan.Number = 3
	if a.Equal(b) {
		t.Fatalf("different plan number should not be equal")
	}
	if a.DropPlan.Number != 2 {
		t.Fatalf("Clone shares the drop plan pointer")
	}
}

func TestLaunchSequenceSumsToDelay(t *testing.T) {
	for _, kind := range Kinds() {
		spec := DefaultSpecs()[kind]
		spec.LaunchDelay = 3100 * time.Millisecond
		steps := LaunchSequence(kind, spec)
		if len(steps) == 0 {
			t.Fatalf("%s: no launch steps", kind)
		}
		var total time.Duration
		for _, s := range steps {
			if s.Description == "" {
				t.Fatalf("%s: step without description", kind)
			}
			total += s.Duration
		}
		if total != spec.LaunchDelay {
			t.Fatalf("%s: steps sum to %v, want %v", kind, total, spec.LaunchDelay)
		}
	}
}

func TestDefaultSpecsValidate(t *testing.T) {
	for kind, spec := range DefaultSpecs() {
		if err := spec.Validate(); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
	}
	bad := Spec{MaxRangeKm: 1, MaxSpeedMps: 0}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Validate() = %v, want ErrInvalidSpec", err)
	}
}
