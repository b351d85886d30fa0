package audioio

import (
	"fmt"
	"strconv"
	"strings"
)

// Device describes an input device reported by the platform.
type Device struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// Strategy names how SelectMicrophone picked a device.
type Strategy string

const (
	StrategyHardware   Strategy = "hardware"
	StrategyNonDefault Strategy = "non-default"
	StrategyDefault    Strategy = "default"
)

var (
	hardwareHints = []string{"built-in", "internal", "macbook", "usb", "headset", "microphone", "mic"}
	virtualHints  = []string{"virtual", "loopback", "blackhole", "soundflower", "aggregate", "monitor"}
)

// isHardware reports whether a label looks like a physical microphone.
func isHardware(label string) bool {
	l := strings.ToLower(label)
	for _, v := range virtualHints {
		if strings.Contains(l, v) {
			return false
		}
	}
	for _, h := range hardwareHints {
		if strings.Contains(l, h) {
			return true
		}
	}
	return false
}

// SelectMicrophone picks an input device: a hardware microphone first, then
// any non-default device, then the default. ok is false when devices is
// empty.
func SelectMicrophone(devices []Device) (dev Device, strategy Strategy, ok bool) {
	if len(devices) == 0 {
		return Device{}, "", false
	}
	for _, d := range devices {
		if isHardware(d.Label) {
			return d, StrategyHardware, true
		}
	}
	for _, d := range devices {
		if !d.Default && d.ID != "default" {
			return d, StrategyNonDefault, true
		}
	}
	return devices[0], StrategyDefault, true
}

// ParseARecordList parses `arecord -l` output into devices addressed as
// plughw:<card>,<device>.
func ParseARecordList(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "card ") {
			continue
		}
		// card 1: Headset [USB Headset], device 0: USB Audio [USB Audio]
		var card, dev int
		var rest string
		head, tail, found := strings.Cut(line, ", device ")
		if !found {
			continue
		}
		if _, err := fmt.Sscanf(head, "card %d:", &card); err != nil {
			continue
		}
		if _, err := fmt.Sscanf(tail, "%d:", &dev); err != nil {
			continue
		}
		if _, after, ok := strings.Cut(head, ": "); ok {
			rest = after
		}
		devices = append(devices, Device{
			ID:    "plughw:" + strconv.Itoa(card) + "," + strconv.Itoa(dev),
			Label: rest,
		})
	}
	return devices
}
