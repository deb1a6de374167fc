package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

const (
	kindSerial = "serial"
	kindStdio  = "stdio"
	kindFile   = "file"
)

// portSpec is one entry of the [[port]] table.
type portSpec struct {
	Name          string   `toml:"name"`
	Kind          string   `toml:"kind"`
	Device        string   `toml:"device"`
	Baud          int      `toml:"baud"`
	Wire          string   `toml:"wire"`
	TokenWidth    int      `toml:"token_width"`
	ByteOrder     string   `toml:"byte_order"`
	Role          string   `toml:"role"`
	Async         bool     `toml:"async"`
	CyclesToReset *int     `toml:"cycles_to_reset"`
	QueueDepth    int      `toml:"queue_depth"`
	Poll          []string `toml:"poll"`
}

type fileConfig struct {
	Cycle         time.Duration `toml:"cycle"`
	TokenCount    int           `toml:"token_count"`
	CharsPerToken int           `toml:"chars_per_token"`
	CharsPerID    int           `toml:"chars_per_id"`
	Listen        string        `toml:"listen"`
	Ports         []portSpec    `toml:"port"`
}

// loadConfigFile merges a TOML file into c. Keys missing from the file and
// keys whose flag was set explicitly keep their current value.
func loadConfigFile(c *appConfig, path string, set map[string]struct{}) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return err
	}
	if und := meta.Undecoded(); len(und) > 0 {
		return fmt.Errorf("unknown keys: %v", und)
	}
	apply := func(key, flagName string, fn func()) {
		if _, ok := set[flagName]; ok {
			return
		}
		if meta.IsDefined(key) {
			fn()
		}
	}
	apply("cycle", "cycle", func() { c.cycle = fc.Cycle })
	apply("token_count", "token-count", func() { c.sizing.TokenCount = fc.TokenCount })
	apply("chars_per_token", "chars-per-token", func() { c.sizing.CharsPerToken = fc.CharsPerToken })
	apply("chars_per_id", "chars-per-id", func() { c.sizing.CharsPerID = fc.CharsPerID })
	apply("listen", "listen", func() { c.listenAddr = fc.Listen })
	c.ports = append(c.ports, fc.Ports...)
	return nil
}

// wireSettings is the codec shape of a port.
type wireSettings struct {
	mode  packet.Mode
	width spd.Width
	order binary.ByteOrder
}

func parseWire(wire string, width int, order string) (wireSettings, error) {
	var ws wireSettings
	var err error
	if ws.mode, err = packet.ParseMode(wire); err != nil {
		return ws, err
	}
	if ws.order, err = spd.ParseByteOrder(order); err != nil {
		return ws, err
	}
	if ws.mode == packet.Binary {
		if ws.width, err = spd.ParseWidth(width); err != nil {
			return ws, err
		}
	}
	return ws, nil
}

func (ps portSpec) validate() error {
	if ps.Name == "" {
		return fmt.Errorf("port needs a name")
	}
	switch ps.Kind {
	case kindSerial, kindFile:
		if ps.Device == "" {
			return fmt.Errorf("%s port needs a device", ps.Kind)
		}
	case kindStdio:
	default:
		return fmt.Errorf("invalid kind %q (use serial|stdio|file)", ps.Kind)
	}
	if _, err := parseWire(ps.Wire, ps.TokenWidth, ps.ByteOrder); err != nil {
		return err
	}
	if _, err := port.ParseRole(ps.Role); err != nil {
		return err
	}
	if ps.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be > 0")
	}
	if ps.CyclesToReset != nil && *ps.CyclesToReset < 0 {
		return fmt.Errorf("cycles_to_reset must be >= 0")
	}
	return nil
}
