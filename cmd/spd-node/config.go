package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

type appConfig struct {
	configPath      string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	stdio           bool
	wire            string
	tokenWidth      int
	byteOrder       string
	role            string
	poll            []string
	cycle           time.Duration
	cyclesToReset   int
	queueDepth      int
	sizing          spd.Sizing
	listenAddr      string
	logFormat       string
	logLevel        string
	logPackets      bool
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	natsURL         string
	natsPrefix      string
	redisAddr       string
	redisPassword   string
	redisDB         int
	redisTTL        time.Duration
	ports           []portSpec
}

func defaultConfig() *appConfig {
	return &appConfig{
		baud:          115200,
		serialReadTO:  50 * time.Millisecond,
		wire:          "ascii",
		tokenWidth:    4,
		byteOrder:     "little",
		role:          "responder",
		cycle:         time.Millisecond,
		cyclesToReset: port.DefaultCyclesToReset,
		queueDepth:    port.DefaultQueueDepth,
		sizing:        spd.DefaultSizing(),
		listenAddr:    ":20100",
		logFormat:     "text",
		logLevel:      "info",
		hubBuffer:     512,
		hubPolicy:     "drop",
		clientReadTO:  60 * time.Second,
		natsPrefix:    "spd",
		redisTTL:      24 * time.Hour,
	}
}

func parseFlags() (*appConfig, bool) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool) {
	cfg := defaultConfig()
	fs.StringVar(&cfg.configPath, "config", "", "TOML file with node settings and a [[port]] table")
	fs.StringVar(&cfg.serialDev, "serial", "", "Serial device for a port named uart0 (empty = none)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.BoolVar(&cfg.stdio, "stdio", false, "Serve an ASCII console port on stdin/stdout")
	fs.StringVar(&cfg.wire, "wire", cfg.wire, "Default wire format: ascii|binary")
	fs.IntVar(&cfg.tokenWidth, "token-width", cfg.tokenWidth, "Binary token width in bytes: 1|2|4|8")
	fs.StringVar(&cfg.byteOrder, "byte-order", cfg.byteOrder, "Binary byte order: little|big")
	fs.StringVar(&cfg.role, "role", cfg.role, "Role of the -serial port: responder|sender|fullcyclic|filesystem")
	pollList := fs.String("poll", "", "Comma separated packet names a sender polls (e.g. VERSION)")
	fs.DurationVar(&cfg.cycle, "cycle", cfg.cycle, "Node loop period")
	fs.IntVar(&cfg.cyclesToReset, "cycles-to-reset", cfg.cyclesToReset, "Idle cycles before a waiting port resets (0 disables)")
	fs.IntVar(&cfg.queueDepth, "queue-depth", cfg.queueDepth, "Outbound requests queued per port")
	fs.IntVar(&cfg.sizing.TokenCount, "token-count", cfg.sizing.TokenCount, "Tokens per packet buffer")
	fs.IntVar(&cfg.sizing.CharsPerToken, "chars-per-token", cfg.sizing.CharsPerToken, "ASCII chars per token slot")
	fs.IntVar(&cfg.sizing.CharsPerID, "chars-per-id", cfg.sizing.CharsPerID, "ASCII chars for the ID slot")
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP listen address for responder ports (empty disables)")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.logPackets, "log-packets", false, "Log every packet record at debug level")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", cfg.hubBuffer, "Per-observer hub buffer (records)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", cfg.hubPolicy, "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Per-connection idle read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the TCP listener via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default spd-node-<hostname>)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "NATS server URL for packet records (empty disables)")
	fs.StringVar(&cfg.natsPrefix, "nats-prefix", cfg.natsPrefix, "NATS subject prefix")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "Redis address for the port shadow (empty disables)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "Redis database")
	fs.DurationVar(&cfg.redisTTL, "redis-ttl", cfg.redisTTL, "Expiry of port shadow keys (0 = none)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false
	}

	// Track which flags were explicitly set to give them precedence over env and file.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.poll = splitList(*pollList)
	if *showVersion {
		return cfg, true
	}

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, false
	}
	if cfg.configPath != "" {
		if err := loadConfigFile(cfg, cfg.configPath, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, false
		}
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, false
	}
	return cfg, false
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

// validate performs semantic validation of the parsed configuration.
// It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, ok := hub.ParsePolicy(c.hubPolicy); !ok || c.hubPolicy == "" {
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.cycle <= 0 {
		return fmt.Errorf("cycle must be > 0")
	}
	if c.cyclesToReset < 0 {
		return fmt.Errorf("cycles-to-reset must be >= 0")
	}
	if c.queueDepth <= 0 {
		return fmt.Errorf("queue-depth must be > 0")
	}
	if c.redisTTL < 0 {
		return fmt.Errorf("redis-ttl must be >= 0")
	}
	if err := c.sizing.Validate(); err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	seen := map[string]bool{}
	for _, ps := range c.portSpecs() {
		if seen[ps.Name] {
			return fmt.Errorf("duplicate port name %q", ps.Name)
		}
		seen[ps.Name] = true
		if err := ps.validate(); err != nil {
			return fmt.Errorf("port %s: %w", ps.Name, err)
		}
	}
	// TCP ports use the default wire settings.
	if _, err := parseWire(c.wire, c.tokenWidth, c.byteOrder); err != nil {
		return err
	}
	return nil
}

// portSpecs returns the configured ports: the file table plus the ports
// implied by -serial and -stdio, with defaults filled in.
func (c *appConfig) portSpecs() []portSpec {
	var specs []portSpec
	for _, ps := range c.ports {
		specs = append(specs, c.withDefaults(ps))
	}
	if c.serialDev != "" {
		specs = append(specs, c.withDefaults(portSpec{Name: "uart0", Kind: kindSerial, Device: c.serialDev, Role: c.role, Poll: c.poll}))
	}
	if c.stdio {
		specs = append(specs, c.withDefaults(portSpec{Name: "console", Kind: kindStdio, Wire: "ascii", Role: "responder"}))
	}
	return specs
}

func (c *appConfig) withDefaults(ps portSpec) portSpec {
	if ps.Kind == "" {
		ps.Kind = kindSerial
	}
	if ps.Baud == 0 {
		ps.Baud = c.baud
	}
	if ps.Wire == "" {
		ps.Wire = c.wire
	}
	if ps.TokenWidth == 0 {
		ps.TokenWidth = c.tokenWidth
	}
	if ps.ByteOrder == "" {
		ps.ByteOrder = c.byteOrder
	}
	if ps.Role == "" {
		ps.Role = "responder"
	}
	if ps.CyclesToReset == nil {
		n := c.cyclesToReset
		ps.CyclesToReset = &n
	}
	if ps.QueueDepth == 0 {
		ps.QueueDepth = c.queueDepth
	}
	return ps
}

// applyEnvOverrides maps SPD_NODE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		k := "SPD_NODE_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
		v, ok := os.LookupEnv(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(flagName string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid SPD_NODE_%s: %w", strings.ToUpper(strings.ReplaceAll(flagName, "-", "_")), err)
		}
	}
	str := func(flagName string, dst *string) {
		if v, ok := get(flagName); ok {
			*dst = v
		}
	}
	num := func(flagName string, dst *int, min int) {
		if v, ok := get(flagName); ok {
			n, err := strconv.Atoi(v)
			if err == nil && n < min {
				err = fmt.Errorf("must be >= %d", min)
			}
			if err != nil {
				fail(flagName, err)
				return
			}
			*dst = n
		}
	}
	dur := func(flagName string, dst *time.Duration) {
		if v, ok := get(flagName); ok {
			d, err := time.ParseDuration(v)
			if err == nil && d < 0 {
				err = errors.New("must be >= 0")
			}
			if err != nil {
				fail(flagName, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(flagName string, dst *bool) {
		if v, ok := get(flagName); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(flagName, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("config", &c.configPath)
	str("serial", &c.serialDev)
	num("baud", &c.baud, 1)
	dur("serial-read-timeout", &c.serialReadTO)
	boolean("stdio", &c.stdio)
	str("wire", &c.wire)
	num("token-width", &c.tokenWidth, 1)
	str("byte-order", &c.byteOrder)
	str("role", &c.role)
	if v, ok := get("poll"); ok {
		c.poll = splitList(v)
	}
	dur("cycle", &c.cycle)
	num("cycles-to-reset", &c.cyclesToReset, 0)
	num("queue-depth", &c.queueDepth, 1)
	num("token-count", &c.sizing.TokenCount, 1)
	num("chars-per-token", &c.sizing.CharsPerToken, 1)
	num("chars-per-id", &c.sizing.CharsPerID, 1)
	str("listen", &c.listenAddr)
	str("log-format", &c.logFormat)
	str("log-level", &c.logLevel)
	boolean("log-packets", &c.logPackets)
	str("metrics-addr", &c.metricsAddr)
	num("hub-buffer", &c.hubBuffer, 1)
	str("hub-policy", &c.hubPolicy)
	dur("log-metrics-interval", &c.logMetricsEvery)
	num("max-clients", &c.maxClients, 0)
	dur("client-read-timeout", &c.clientReadTO)
	boolean("mdns-enable", &c.mdnsEnable)
	str("mdns-name", &c.mdnsName)
	str("nats-url", &c.natsURL)
	str("nats-prefix", &c.natsPrefix)
	str("redis-addr", &c.redisAddr)
	str("redis-password", &c.redisPassword)
	num("redis-db", &c.redisDB, 0)
	dur("redis-ttl", &c.redisTTL)
	return firstErr
}

// pollRequests resolves poll names against reg. Full cyclic ports exchange
// FullCyclicPartner packets, every other role reads.
func pollRequests(reg *packet.Registry, names []string, role port.Role) ([]port.Request, error) {
	typ := packet.ReadComplete
	if role == port.FullCyclic {
		typ = packet.FullCyclicPartner
	}
	var reqs []port.Request
	for _, n := range names {
		d, ok := reg.ByName(n)
		if !ok {
			return nil, fmt.Errorf("%w: poll %q", packet.ErrUnknownID, n)
		}
		reqs = append(reqs, port.Request{ID: d.ID, Type: typ})
	}
	return reqs, nil
}
