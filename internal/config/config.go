// Package config loads the machine configuration the controller is built
// from: its display name, the driver subtree handed opaquely to a driver
// factory, and the optional warmup/cooldown G-code blocks bracketing every
// build.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Machine is the parsed form of a machine configuration file.
type Machine struct {
	Name     string
	Driver   Driver
	Warmup   []string
	Cooldown []string
}

// Driver is the opaque <driver> subtree. Type selects which driver factory
// to use; InnerXML is passed to that factory unparsed, since the core has
// no business knowing a serial driver's baud rate or a bridge driver's URL.
type Driver struct {
	Type     string `xml:"type,attr"`
	InnerXML string `xml:",innerxml"`
}

type xmlMachine struct {
	XMLName  xml.Name `xml:"machine"`
	Name     string   `xml:"name,attr"`
	Driver   Driver   `xml:"driver"`
	Warmup   string   `xml:"warmup"`
	Cooldown string   `xml:"cooldown"`
}

// Load reads and parses a machine configuration file from path.
func Load(path string) (Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return Machine{}, fmt.Errorf("open machine config: %w", err)
	}
	defer f.Close()

	var raw xmlMachine
	if err := xml.NewDecoder(f).Decode(&raw); err != nil {
		return Machine{}, fmt.Errorf("parse machine config: %w", err)
	}

	return Machine{
		Name:     raw.Name,
		Driver:   raw.Driver,
		Warmup:   splitLines(raw.Warmup),
		Cooldown: splitLines(raw.Cooldown),
	}, nil
}

func splitLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
