package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lanikai/pwcapture/internal/backing"
	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/config"
	"github.com/lanikai/pwcapture/internal/cursor"
	"github.com/lanikai/pwcapture/internal/logging"
	"github.com/lanikai/pwcapture/internal/producer"
	"github.com/lanikai/pwcapture/internal/transport"
	"github.com/lanikai/pwcapture/internal/transport/loopback"
	"github.com/lanikai/pwcapture/internal/transport/wsview"
)

var (
	flagConfig = config.Default()
	flagTUI    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream a test pattern",
	Long: `Stream a scrolling test pattern with a moving cursor through the
configured transport. Settings come from the configuration file, then
PWCAPTURE_* environment variables, then flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Override(cmd.Flags()); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, flagTUI)
	},
}

func init() {
	flagConfig.BindFlags(runCmd.Flags())
	runCmd.Flags().BoolVar(&flagTUI, "tui", false, "show live slot states instead of log output")
	rootCmd.AddCommand(runCmd)
}

// daemon is one running capture stream and its consumers.
type daemon struct {
	session  *capture.Session
	producer capture.Producer
	graph    *loopback.Graph
	viewer   *wsview.Server
}

func start(cfg config.Config) (*daemon, error) {
	if err := logging.Configure(cfg.Log); err != nil {
		log.Warn("log directives: %v", err)
	}

	ccfg, err := cfg.Capture()
	if err != nil {
		return nil, err
	}
	tr, err := transport.Open(cfg.Transport)
	if err != nil {
		return nil, err
	}

	d := &daemon{}
	d.graph, _ = tr.(*loopback.Graph)

	alloc := &backing.Allocator{Memfd: backing.MemfdAllocator{Name: "pw-capture"}}
	d.session = capture.NewSession(ccfg, cfg.Identity(), tr, alloc)
	d.session.Observe(func(old, new capture.State) {
		log.Info("stream %v -> %v", old, new)
	})

	orbit := newOrbit(cfg.Stream.Width, cfg.Stream.Height)
	d.producer = &producer.Pattern{Cursor: cursor.NewTracker(orbit, 4)}

	if cfg.View.Listen != "" {
		if d.graph == nil {
			log.Warn("viewer needs the loopback transport, not %q", cfg.Transport)
		} else {
			d.viewer = wsview.NewServer(d.graph, cfg.View.MaxViewers)
			if err := d.viewer.Listen(cfg.View.Listen); err != nil {
				d.session.Shutdown()
				return nil, err
			}
		}
	}

	id := d.session.Identity()
	log.Info("node %s serial %s", id.Name, id.Serial)
	return d, nil
}

// submit renders one frame. Backpressure and a stream that is not yet
// streaming only skip the frame.
func (d *daemon) submit() {
	err := d.session.SubmitFrame(d.producer)
	switch errors.Cause(err) {
	case nil:
	case capture.ErrBackpressured, capture.ErrNotStreaming:
		log.Trace("frame skipped: %v", err)
	default:
		log.Warn("submit: %v", err)
	}
}

// pump submits frames at fps until ctx is done.
func (d *daemon) pump(ctx context.Context, fps int) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.submit()
		}
	}
}

func (d *daemon) stop() error {
	if d.viewer != nil {
		d.viewer.Close()
	}
	err := d.session.Shutdown()
	if d.graph != nil {
		if cerr := d.graph.Close(); err == nil {
			err = cerr
		}
	}
	s := d.session.Stats()
	log.Info("submitted %d, delivered %d, released %d, backpressured %d",
		s.Submitted, s.Delivered, s.Released, s.Backpressured)
	return err
}

func run(ctx context.Context, cfg config.Config, tui bool) error {
	d, err := start(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		d.pump(ctx, cfg.Stream.FPS)
	}()

	if tui {
		// The TUI owns the terminal, so logging goes quiet while it runs.
		logging.DefaultLogger.SetDestination(io.Discard)
		p := tea.NewProgram(newModel(d.session), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error("tui: %v", err)
		}
		logging.DefaultLogger.SetDestination(os.Stderr)
		cancel()
	} else {
		<-ctx.Done()
	}

	<-pumped
	return d.stop()
}
