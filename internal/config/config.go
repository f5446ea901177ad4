// Package config assembles the daemon configuration from defaults, a YAML
// file, PWCAPTURE_* environment variables and command-line flags, in that
// order of precedence (later wins).
package config

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/pwcapture/internal/capture"
)

const envPrefix = "PWCAPTURE_"

type Config struct {
	// Transport spec, e.g. "loopback" or "loopback:1280x720".
	Transport string `yaml:"transport"`

	Stream StreamConfig `yaml:"stream"`
	Node   NodeConfig   `yaml:"node"`
	View   ViewConfig   `yaml:"view"`

	// Log directives, e.g. "info,capture=debug".
	Log string `yaml:"log"`
}

type StreamConfig struct {
	Width          uint32        `yaml:"width"`
	Height         uint32        `yaml:"height"`
	FPS            int           `yaml:"fps"`
	Formats        []string      `yaml:"formats"`   // pixel formats in order of preference
	Modifiers      []uint64      `yaml:"modifiers"` // empty for shared memory only
	MaxBuffers     int           `yaml:"max_buffers"`
	DefaultBuffers int           `yaml:"default_buffers"`
	FenceTimeout   time.Duration `yaml:"fence_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

type NodeConfig struct {
	Name        string `yaml:"name"` // defaults to "<app> (pw-capture)"
	Description string `yaml:"description"`
	Serial      string `yaml:"serial"` // defaults to a random UUID
}

type ViewConfig struct {
	Listen     string `yaml:"listen"` // empty disables the viewer
	MaxViewers int    `yaml:"max_viewers"`
}

func Default() Config {
	c := capture.DefaultConfig()
	return Config{
		Transport: "loopback",
		Stream: StreamConfig{
			Width:          1280,
			Height:         720,
			FPS:            30,
			Formats:        []string{"BGRx", "BGRA", "RGBx", "RGBA"},
			MaxBuffers:     c.MaxBuffers,
			DefaultBuffers: c.DefaultBuffers,
			FenceTimeout:   c.FenceTimeout,
			DrainTimeout:   c.DrainTimeout,
			MaxReconnects:  c.MaxReconnects,
		},
		View: ViewConfig{MaxViewers: 4},
		Log:  "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and the process environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return c, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// ApplyEnv overrides fields from PWCAPTURE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var err error
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && err == nil
	}
	atoi := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = errors.Wrapf(perr, "%s%s", envPrefix, name)
				return
			}
			*dst = n
		}
	}
	atou := func(name string, dst *uint32) {
		if v, ok := get(name); ok {
			n, perr := strconv.ParseUint(v, 10, 32)
			if perr != nil {
				err = errors.Wrapf(perr, "%s%s", envPrefix, name)
				return
			}
			*dst = uint32(n)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = errors.Wrapf(perr, "%s%s", envPrefix, name)
				return
			}
			*dst = d
		}
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	str("TRANSPORT", &c.Transport)
	atou("WIDTH", &c.Stream.Width)
	atou("HEIGHT", &c.Stream.Height)
	atoi("FPS", &c.Stream.FPS)
	if v, ok := get("FORMATS"); ok {
		c.Stream.Formats = splitList(v)
	}
	atoi("MAX_BUFFERS", &c.Stream.MaxBuffers)
	atoi("DEFAULT_BUFFERS", &c.Stream.DefaultBuffers)
	dur("FENCE_TIMEOUT", &c.Stream.FenceTimeout)
	dur("DRAIN_TIMEOUT", &c.Stream.DrainTimeout)
	atoi("MAX_RECONNECTS", &c.Stream.MaxReconnects)
	str("NAME", &c.Node.Name)
	str("SERIAL", &c.Node.Serial)
	str("VIEW", &c.View.Listen)
	str("LOG", &c.Log)
	atoi("MAX_VIEWERS", &c.View.MaxViewers)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks ranges and format names.
func (c *Config) Validate() error {
	s := c.Stream
	switch {
	case s.Width == 0 || s.Height == 0:
		return errors.Errorf("config: frame size %dx%d", s.Width, s.Height)
	case s.MaxBuffers < 1 || s.MaxBuffers > capture.MaxBuffers:
		return errors.Errorf("config: max_buffers %d outside 1..%d", s.MaxBuffers, capture.MaxBuffers)
	case s.DefaultBuffers < 1 || s.DefaultBuffers > s.MaxBuffers:
		return errors.Errorf("config: default_buffers %d outside 1..%d", s.DefaultBuffers, s.MaxBuffers)
	case s.FenceTimeout <= 0 || s.DrainTimeout <= 0:
		return errors.New("config: timeouts must be positive")
	case s.FPS <= 0:
		return errors.Errorf("config: fps %d", s.FPS)
	case len(s.Formats) == 0:
		return errors.New("config: no pixel formats")
	}
	_, err := c.pixelFormats()
	return err
}

func (c *Config) pixelFormats() ([]capture.PixelFormat, error) {
	var out []capture.PixelFormat
	for _, name := range c.Stream.Formats {
		f, err := capture.ParsePixelFormat(name)
		if err != nil {
			return nil, errors.Wrap(err, "config")
		}
		out = append(out, f)
	}
	return out, nil
}

// Capture converts the stream section into a session configuration.
func (c *Config) Capture() (capture.Config, error) {
	formats, err := c.pixelFormats()
	if err != nil {
		return capture.Config{}, err
	}
	s := c.Stream
	return capture.Config{
		MaxBuffers:     s.MaxBuffers,
		DefaultBuffers: s.DefaultBuffers,
		FenceTimeout:   s.FenceTimeout,
		DrainTimeout:   s.DrainTimeout,
		MaxReconnects:  s.MaxReconnects,
		Width:          s.Width,
		Height:         s.Height,
		Offers:         []capture.FormatOffer{{Formats: formats, Modifiers: s.Modifiers}},
	}, nil
}

// Identity names the stream node. A missing serial is generated and kept, so
// repeated calls agree.
func (c *Config) Identity() capture.NodeIdentity {
	app := AppName()
	if c.Node.Serial == "" {
		c.Node.Serial = uuid.New().String()
	}
	id := capture.NodeIdentity{
		Name:        c.Node.Name,
		Description: c.Node.Description,
		Serial:      c.Node.Serial,
	}
	if id.Name == "" {
		id.Name = app + " (pw-capture)"
	}
	if id.Description == "" {
		id.Description = "Capture of " + app
	}
	return id
}
