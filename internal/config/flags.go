package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// BindFlags registers flags that override c when parsed. Defaults shown in
// help are the values c holds when BindFlags is called.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Transport, "transport", c.Transport, "transport spec (tag[:arg])")
	fs.Uint32Var(&c.Stream.Width, "width", c.Stream.Width, "frame width")
	fs.Uint32Var(&c.Stream.Height, "height", c.Stream.Height, "frame height")
	fs.IntVar(&c.Stream.FPS, "fps", c.Stream.FPS, "frames per second")
	fs.StringSliceVar(&c.Stream.Formats, "format", c.Stream.Formats, "pixel formats, in order of preference")
	fs.IntVar(&c.Stream.MaxBuffers, "max-buffers", c.Stream.MaxBuffers, "largest slot pool accepted from the graph")
	fs.IntVar(&c.Stream.DefaultBuffers, "buffers", c.Stream.DefaultBuffers, "slot pool size when the graph does not ask for one")
	fs.DurationVar(&c.Stream.FenceTimeout, "fence-timeout", c.Stream.FenceTimeout, "longest wait on a release fence")
	fs.DurationVar(&c.Stream.DrainTimeout, "drain-timeout", c.Stream.DrainTimeout, "longest wait for in-flight slots on renegotiation")
	fs.IntVar(&c.Stream.MaxReconnects, "max-reconnects", c.Stream.MaxReconnects, "reconnect attempts after failed negotiation")
	fs.StringVar(&c.Node.Name, "name", c.Node.Name, "node name (default \"<app> (pw-capture)\")")
	fs.StringVar(&c.View.Listen, "view", c.View.Listen, "serve the websocket viewer on this address")
	fs.StringVar(&c.Log, "log", c.Log, "log directives, e.g. "+strings.Join([]string{"debug", "capture=trace"}, ","))
}

// Override copies the flags that were set in fs onto c. Use it to layer the
// command line over a configuration loaded after the flags were parsed.
func (c *Config) Override(fs *pflag.FlagSet) error {
	own := pflag.NewFlagSet("override", pflag.ContinueOnError)
	c.BindFlags(own)

	var err error
	fs.Visit(func(f *pflag.Flag) {
		dst := own.Lookup(f.Name)
		if dst == nil || err != nil {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = dst.Value.(pflag.SliceValue).Replace(sv.GetSlice())
		} else {
			err = dst.Value.Set(f.Value.String())
		}
		if err != nil {
			err = errors.Wrapf(err, "--%s", f.Name)
		}
	})
	return err
}
