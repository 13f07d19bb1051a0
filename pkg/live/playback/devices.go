// Package playback plays model audio on a local output device with PortAudio.
package playback

import (
	"fmt"
	"io"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Device describes one PortAudio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
	HostAPI           string
}

// IsInput reports whether the device can capture.
func (d Device) IsInput() bool { return d.MaxInputChannels > 0 }

// IsOutput reports whether the device can play.
func (d Device) IsOutput() bool { return d.MaxOutputChannels > 0 }

// ListDevices initializes PortAudio, enumerates the devices and terminates it again.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("playback: initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()
	return devices()
}

// devices must be called between Initialize and Terminate.
func devices() ([]Device, error) {
	// Either default may be missing on headless machines.
	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("playback: list devices: %w", err)
	}

	out := make([]Device, 0, len(infos))
	for i, info := range infos {
		hostAPI := "Unknown"
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		out = append(out, Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefaultInput:    defaultIn != nil && info == defaultIn,
			IsDefaultOutput:   defaultOut != nil && info == defaultOut,
			HostAPI:           hostAPI,
		})
	}
	return out, nil
}

// outputDevice resolves id (or the default output when id is nil).
func outputDevice(id *int) (*portaudio.DeviceInfo, error) {
	if id == nil {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("playback: no default output device: %w", err)
		}
		return dev, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("playback: list devices: %w", err)
	}
	if *id < 0 || *id >= len(infos) {
		return nil, fmt.Errorf("playback: device with ID %d not found", *id)
	}
	dev := infos[*id]
	if dev.MaxOutputChannels <= 0 {
		return nil, fmt.Errorf("playback: device '%s' is not an output device", dev.Name)
	}
	return dev, nil
}

// WriteDevices prints a device table the way `livechat devices` shows it.
func WriteDevices(w io.Writer, devs []Device) {
	for _, d := range devs {
		var caps []string
		if d.IsInput() {
			caps = append(caps, "Input")
		}
		if d.IsOutput() {
			caps = append(caps, "Output")
		}
		if len(caps) == 0 {
			caps = append(caps, "None")
		}
		var defaults []string
		if d.IsDefaultInput {
			defaults = append(defaults, "default input")
		}
		if d.IsDefaultOutput {
			defaults = append(defaults, "default output")
		}

		fmt.Fprintf(w, "[%d] %s", d.ID, d.Name)
		if len(defaults) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(defaults, ", "))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Host API: %s\n", d.HostAPI)
		fmt.Fprintf(w, "  Channels: in=%d out=%d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "  Default Sample Rate: %.1f Hz\n", d.DefaultSampleRate)
		fmt.Fprintf(w, "  Capabilities: %s\n", strings.Join(caps, ", "))
	}
}
