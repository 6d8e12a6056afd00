package intake

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"

	"lifeline/internal/config"
	"lifeline/internal/logging"
	"lifeline/internal/metrics"
	"lifeline/internal/queue"
)

// bridgeBaud must match the capture device firmware.
const bridgeBaud = unix.B115200

// reconnectDelay paces device open attempts when the bridge is absent.
const reconnectDelay = 5 * time.Second

// Bridge reads line-delimited disaster readings from the configured
// serial device and publishes them to the observations channel. Device
// hotplug is watched over udev netlink so an unplugged bridge reattaches
// without a daemon restart; without netlink the reader falls back to
// polling the device path.
type Bridge struct {
	cfg    *config.Config
	broker queue.Broker
	logger *slog.Logger
	device string
	source string

	ingested atomic.Uint64

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewBridge creates the serial bridge monitor. It returns nil when the
// bridge is disabled or no device is configured; a nil Bridge is safe to
// Start and Stop.
func NewBridge(cfg *config.Config, broker queue.Broker, logger *slog.Logger) *Bridge {
	if cfg == nil || !cfg.Intake.BridgeEnabled {
		return nil
	}
	device := strings.TrimSpace(cfg.Intake.BridgeDevice)
	if device == "" {
		return nil
	}
	return &Bridge{
		cfg:    cfg,
		broker: broker,
		logger: logging.NewComponentLogger(logger, "serial-bridge"),
		device: device,
		source: cfg.Intake.BridgeSource,
	}
}

// Start launches the hotplug watcher and the reader loop.
func (b *Bridge) Start(ctx context.Context) error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.quit = make(chan struct{})
	b.running = true
	wake := make(chan struct{}, 1)

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		b.logger.Warn("failed to connect to netlink socket; bridge reattach will rely on polling",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
		)
	} else {
		b.conn = conn
		go b.watchHotplug(ctx, b.quit, wake)
	}

	go b.readLoop(ctx, b.quit, wake)

	b.logger.Info("serial bridge started",
		logging.String("device", b.device),
		logging.String("source", b.source),
	)
	return nil
}

// Stop shuts the bridge down.
func (b *Bridge) Stop() {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	if b.quit != nil {
		close(b.quit)
		b.quit = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.running = false

	b.logger.Info("serial bridge stopped")
}

// Running reports whether the bridge is active.
func (b *Bridge) Running() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Ingested reports how many observations the bridge has published.
func (b *Bridge) Ingested() uint64 {
	if b == nil {
		return 0
	}
	return b.ingested.Load()
}

// watchHotplug forwards udev add events for the configured device to the
// reader loop so it reopens immediately instead of on the next poll.
func (b *Bridge) watchHotplug(ctx context.Context, quit <-chan struct{}, wake chan<- struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	action := "add|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, rules)
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			if deviceName(uevent) != b.device {
				continue
			}
			b.logger.Info("bridge device attached",
				logging.String("device", b.device),
				logging.String("action", string(uevent.Action)),
			)
			select {
			case wake <- struct{}{}:
			default:
			}
		case err := <-errs:
			b.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
			)
		}
	}
}

// deviceName extracts the device path from a uevent.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if strings.HasPrefix(devname, "/dev/") {
			return devname
		}
		return "/dev/" + devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}

// readLoop opens the device and consumes readings until the connection
// drops, then waits for a hotplug wake or the poll interval and retries.
func (b *Bridge) readLoop(ctx context.Context, quit <-chan struct{}, wake <-chan struct{}) {
	for {
		if !b.readOnce(ctx, quit) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-wake:
		case <-time.After(reconnectDelay):
		}
	}
}

// readOnce opens the device and streams lines until error or shutdown.
// It returns false when the loop should end.
func (b *Bridge) readOnce(ctx context.Context, quit <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-quit:
		return false
	default:
	}

	file, err := os.OpenFile(b.device, os.O_RDONLY|unix.O_NOCTTY, 0)
	if err != nil {
		b.logger.Debug("bridge device not available",
			logging.String("device", b.device),
			logging.Error(err),
		)
		return true
	}
	if err := configureSerial(file); err != nil {
		b.logger.Warn("failed to configure bridge device",
			logging.String("device", b.device),
			logging.Error(err),
		)
		_ = file.Close()
		return true
	}
	b.logger.Info("bridge device connected", logging.String("device", b.device))

	// Closing the file is what unblocks a pending read on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-quit:
		case <-done:
		}
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		b.handleLine(ctx, scanner.Text())
	}

	select {
	case <-ctx.Done():
		return false
	case <-quit:
		return false
	default:
	}
	b.logger.Warn("bridge connection lost, will reattach",
		logging.String("device", b.device),
		logging.Error(scanner.Err()),
	)
	return true
}

// handleLine parses one serial line and publishes the observation.
func (b *Bridge) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	ev, err := ParseLine(line, b.source)
	if err != nil {
		b.logger.Warn("discarding unparseable bridge line",
			logging.String("line", line),
			logging.Error(err),
		)
		return
	}
	if ev == nil {
		return
	}

	if _, err := b.broker.Publish(ctx, queue.ChannelObservations, ev); err != nil {
		logging.ErrorWithContext(b.logger, "failed to publish bridge observation", "bridge_publish_failed",
			logging.String(logging.FieldEventID, ev.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue storage health"),
		)
		return
	}

	b.ingested.Add(1)
	metrics.ObservationsIngested.WithLabelValues(b.source).Inc()
	b.logger.Info("observation ingested from bridge",
		logging.String(logging.FieldEventID, ev.ID),
		logging.String("source", b.source),
	)
}

// configureSerial puts the tty into raw mode at the bridge baud rate.
func configureSerial(file *os.File) error {
	fd := int(file.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | bridgeBaud
	t.Ispeed = bridgeBaud
	t.Ospeed = bridgeBaud
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
