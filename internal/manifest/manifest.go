// Package manifest loads site manifests: TOML files naming every device of a
// test bench with its radio addresses and mounted decks.
//
//	[device.cf1]
//	radio = "radio://0/10/2M/E7E7E7E701"
//	bootloader_radio = "radio://0/0/2M/B1ADDRESS01"
//	decks = ["bcLighthouse4"]
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/swarmqa/endurance/pkg/core"
)

var (
	// ErrNoSite is returned when no site name was configured.
	ErrNoSite = errors.New("no site specified")
	// ErrNoDevices is returned for a manifest without devices.
	ErrNoDevices = errors.New("site has no devices")
)

// Decks whose presence means the device runs the Kalman estimator.
var kalmanDecks = []string{"bcLighthouse4", "bcFlow", "bcFlow2", "bcDWM1000"}

// Device is one [device.<name>] table.
type Device struct {
	Name            string   `toml:"-"`
	Radio           string   `toml:"radio"`
	BootloaderRadio string   `toml:"bootloader_radio"`
	Decks           []string `toml:"decks"`
}

// ID returns the device id used throughout the controller.
func (d Device) ID() core.DeviceID {
	return core.DeviceID(d.Radio)
}

// KalmanActive reports whether every mounted deck is a Kalman positioning
// deck. A device without decks is not.
func (d Device) KalmanActive() bool {
	if len(d.Decks) == 0 {
		return false
	}
	for _, deck := range d.Decks {
		if !slices.Contains(kalmanDecks, deck) {
			return false
		}
	}
	return true
}

func (d Device) String() string {
	return fmt.Sprintf("%s @ %s", d.Name, d.Radio)
}

// Site is a parsed manifest.
type Site struct {
	Name    string
	Devices []Device
}

// IDs returns the device ids in manifest order.
func (s *Site) IDs() []core.DeviceID {
	ids := make([]core.DeviceID, len(s.Devices))
	for i, d := range s.Devices {
		ids[i] = d.ID()
	}
	return ids
}

type file struct {
	Device map[string]Device `toml:"device"`
}

// SitePath returns the manifest path of site in dir.
func SitePath(dir, site string) string {
	return filepath.Join(dir, site+".toml")
}

// Load reads the manifest of site from dir.
func Load(dir, site string) (*Site, error) {
	if site == "" {
		return nil, ErrNoSite
	}

	path := SitePath(dir, site)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse toml %s: %w", path, err)
	}
	s.Name = site
	return s, nil
}

// Parse decodes manifest data. Devices are sorted by name.
func Parse(data []byte) (*Site, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Device) == 0 {
		return nil, ErrNoDevices
	}

	s := &Site{}
	seen := make(map[string]string, len(f.Device))
	for name, d := range f.Device {
		if d.Radio == "" {
			return nil, fmt.Errorf("device %s: missing radio", name)
		}
		if other, ok := seen[d.Radio]; ok {
			return nil, fmt.Errorf("device %s: radio %s already used by %s", name, d.Radio, other)
		}
		seen[d.Radio] = name
		d.Name = name
		s.Devices = append(s.Devices, d)
	}
	sort.Slice(s.Devices, func(i, j int) bool { return s.Devices[i].Name < s.Devices[j].Name })
	return s, nil
}
