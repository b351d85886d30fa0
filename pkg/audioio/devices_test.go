package audioio

import (
	"slices"
	"testing"
)

func TestSelectMicrophone(t *testing.T) {
	tests := []struct {
		name     string
		devices  []Device
		wantID   string
		strategy Strategy
	}{
		{
			name: "hardware wins over default",
			devices: []Device{
				{ID: "default", Label: "Default", Default: true},
				{ID: "bh", Label: "BlackHole 2ch"},
				{ID: "usb", Label: "USB Headset"},
			},
			wantID:   "usb",
			strategy: StrategyHardware,
		},
		{
			name: "virtual mic is not hardware",
			devices: []Device{
				{ID: "default", Label: "Default", Default: true},
				{ID: "loop", Label: "Loopback Mic"},
			},
			wantID:   "loop",
			strategy: StrategyNonDefault,
		},
		{
			name:     "only default",
			devices:  []Device{{ID: "default", Label: "Default", Default: true}},
			wantID:   "default",
			strategy: StrategyDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, s, ok := SelectMicrophone(tt.devices)
			if !ok || d.ID != tt.wantID || s != tt.strategy {
				t.Errorf("got (%q, %q, %v), want (%q, %q)", d.ID, s, ok, tt.wantID, tt.strategy)
			}
		})
	}

	if _, _, ok := SelectMicrophone(nil); ok {
		t.Error("expected ok=false for no devices")
	}
}

func TestParseARecordList(t *testing.T) {
	out := `**** List of CAPTURE Hardware Devices ****
card 0: PCH [HDA Intel PCH], device 0: ALC3246 Analog [ALC3246 Analog]
  Subdevices: 1/1
card 2: Headset [USB Headset], device 0: USB Audio [USB Audio]
`
	devices := ParseARecordList(out)
	if len(devices) != 2 {
		t.Fatalf("got %d devices: %+v", len(devices), devices)
	}
	if devices[1].ID != "plughw:2,0" || devices[1].Label != "Headset [USB Headset]" {
		t.Errorf("unexpected device: %+v", devices[1])
	}
}

func TestExecArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "plughw:1,0"

	rec, play := commandNames("linux")
	if rec != "arecord" || play != "aplay" {
		t.Errorf("linux tools = %s/%s", rec, play)
	}
	args := captureArgs("linux", cfg)
	if !slices.Contains(args, "24000") || !slices.Contains(args, "plughw:1,0") {
		t.Errorf("capture args = %v", args)
	}

	args = playbackArgs("darwin", cfg)
	if args[len(args)-1] != "plughw:1,0" {
		t.Errorf("darwin playback args = %v", args)
	}

	if rec, _ := commandNames("windows"); rec != "" {
		t.Errorf("windows should have no tool, got %q", rec)
	}
}
