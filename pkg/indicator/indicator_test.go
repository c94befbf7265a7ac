package indicator

import (
	"errors"
	"testing"
	"time"
)

func TestRender_Precedence(t *testing.T) {
	override := &Override{Action: ActionOn, Color: Green, Intensity: 100}

	tests := []struct {
		name     string
		mode     Mode
		override *Override
		color    RGB
		pattern  Pattern
		hz       float64
	}{
		{"emergency", ModeEmergency, nil, Red, PatternBlink, 2},
		{"emergency ignores override", ModeEmergency, override, Red, PatternBlink, 2},
		{"offline", ModeBrainOffline, override, Amber, PatternBreathe, 1},
		{"advertising", ModeAdvertising, nil, Blue, PatternBlink, 0.5},
		{"executing", ModeExecuting, override, Green, PatternSolid, 0},
		{"idle", ModeIdle, nil, Blue, PatternBreathe, 0.25},
		{"idle override", ModeIdle, override, Green, PatternSolid, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.mode, tt.override, 0)
			if got.Color != tt.color || got.Pattern != tt.pattern || got.Hz != tt.hz {
				t.Errorf("Render(%s) = %+v", tt.mode, got)
			}
		})
	}
}

func TestRender_OverrideActions(t *testing.T) {
	off := Render(ModeIdle, &Override{Action: ActionOff, Color: Red, Intensity: 80}, 0)
	if off.Output() != Black {
		t.Errorf("off override should be dark, got %+v", off.Output())
	}

	blink := Render(ModeIdle, &Override{Action: ActionBlink, Color: Red, Intensity: 50}, 0)
	if blink.Pattern != PatternBlink || blink.Hz != 1 {
		t.Errorf("blink override = %+v", blink)
	}
	if got := blink.Output(); got != (RGB{128, 0, 0}) {
		t.Errorf("half intensity red = %+v, want {128 0 0}", got)
	}
}

func TestOutput_Blink(t *testing.T) {
	st := Render(ModeEmergency, nil, 0)
	tests := []struct {
		phase time.Duration
		want  RGB
	}{
		{0, Red},
		{200 * time.Millisecond, Red},
		{250 * time.Millisecond, Black},
		{499 * time.Millisecond, Black},
		{500 * time.Millisecond, Red},
	}
	for _, tt := range tests {
		st.Phase = tt.phase
		if got := st.Output(); got != tt.want {
			t.Errorf("Output at %v = %+v, want %+v", tt.phase, got, tt.want)
		}
	}
}

func TestOutput_Breathe(t *testing.T) {
	st := Render(ModeBrainOffline, nil, 0)
	if got := st.Output(); got != Black {
		t.Errorf("breathe starts dark, got %+v", got)
	}
	st.Phase = 500 * time.Millisecond
	if got := st.Output(); got != Amber {
		t.Errorf("breathe peaks at half period, got %+v", got)
	}
}

func TestSameLook(t *testing.T) {
	a := Render(ModeIdle, nil, 0)
	b := Render(ModeIdle, nil, 3*time.Second)
	if !a.SameLook(b) {
		t.Error("phase must not affect SameLook")
	}
	if a.SameLook(Render(ModeExecuting, nil, 0)) {
		t.Error("different modes should differ")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want RGB
		err  bool
	}{
		{"red", Red, false},
		{" Blue ", Blue, false},
		{"rgb(1, 2, 3)", RGB{1, 2, 3}, false},
		{"rgb(255,255,255)", White, false},
		{"rgb(256,0,0)", RGB{}, true},
		{"rgb(1,2)", RGB{}, true},
		{"mauve", RGB{}, true},
		{"", RGB{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if tt.err {
			if !errors.Is(err, ErrBadColor) {
				t.Errorf("ParseColor(%q) err = %v, want ErrBadColor", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseColor(%q) = %+v, %v", tt.in, got, err)
		}
	}
}
