// Command ddnsdh keeps a DreamHost-hosted hostname pointed at this machine's
// current public IP addresses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cmason/ddns"
	"golang.org/x/term"
)

var config = struct {
	Hostname string
	Key      string
	KeyFile  string
	IP       string
	Ifaces   string
	URLs     []string
	Once     bool
	MinSleep time.Duration
	MaxSleep time.Duration
	Verbose  bool
}{}

func init() {
	flag.StringVar(&config.Hostname, "hostname", "", "DNS entry to update")
	flag.StringVar(&config.Key, "key", "", "DreamHost API key (otherwise read from -keyfile)")
	flag.StringVar(&config.KeyFile, "keyfile", filepath.Join(os.Getenv("HOME"), ".dreamhost"), "Path to DreamHost API key file")
	flag.StringVar(&config.IP, "ip", "", "Fixed IP address to set instead of discovering one")
	flag.StringVar(&config.Ifaces, "iface", "", "Comma-separated interface names to read addresses from instead of discovering the public IP")
	flag.Func("url", "Public IP service URL to use instead of OpenDNS; may be repeated", func(s string) error {
		config.URLs = append(config.URLs, s)
		return nil
	})
	flag.BoolVar(&config.Once, "once", false, "Run a single update cycle and exit")
	flag.DurationVar(&config.MinSleep, "min-sleep", 40*time.Second, "Duration to wait between update cycles")
	flag.DurationVar(&config.MaxSleep, "max-sleep", 30*time.Minute, "Maximum wait after failed update cycles")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging")
}

var logger *log.Logger = log.New(io.Discard, "", log.LstdFlags)

func main() {
	flag.Parse()
	if config.Verbose {
		logger = log.Default()
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := validate(ctx); err != nil {
		return err
	}
	logger.Printf("config is valid: %+v", redactedConfig())

	key := config.Key
	if key == "" {
		var err error
		if key, err = readKey(config.KeyFile); err != nil {
			return fmt.Errorf("error reading key: %w", err)
		}
		logger.Println("successfully read key from key file")
	}

	resolver, err := newResolver()
	if err != nil {
		return err
	}

	client, err := ddns.New(config.Hostname,
		ddns.UsingDreamhost(key),
		ddns.UsingResolver(resolver),
		ddns.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("error creating ddns client: %w", err)
	}

	return runCycles(ctx, client, config.Once)
}

// runCycles performs exactly one update cycle when once is set,
// otherwise it runs the daemon loop until ctx is done.
func runCycles(ctx context.Context, client ddns.DDNSClient, once bool) error {
	if once {
		if err := client.RunDDNS(ctx); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		return nil
	}

	ddns.RunDaemon(client, ctx, config.MinSleep, config.MaxSleep, log.Default())
	<-ctx.Done()
	return nil
}

// redactedConfig returns a copy of config safe for logging.
// The API key must never end up in logs.
func redactedConfig() any {
	cfg := config
	if cfg.Key != "" {
		cfg.Key = "[redacted]"
	}
	return cfg
}

// newResolver picks the address source: a fixed -ip wins,
// then -iface, then -url services, and OpenDNS discovery is the default.
func newResolver() (ddns.Resolver, error) {
	switch {
	case config.IP != "":
		r, err := ddns.FromString(config.IP)
		if err != nil {
			return nil, fmt.Errorf("invalid -ip value %q: %w", config.IP, err)
		}
		return r, nil
	case config.Ifaces != "":
		return ddns.InterfaceResolver(strings.Split(config.Ifaces, ",")...), nil
	case len(config.URLs) > 0:
		return ddns.WebResolver(config.URLs...), nil
	default:
		return ddns.OpenDNSResolver(), nil
	}
}

func validate(ctx context.Context) error {
	if config.Hostname == "" {
		return errors.New("hostname cannot be empty")
	}
	if !strings.Contains(config.Hostname, ".") {
		return errors.New("hostname must have at least one dot")
	}
	if config.MinSleep <= 0 {
		return errors.New("min-sleep must be positive")
	}
	if config.MaxSleep < config.MinSleep {
		return errors.New("max-sleep cannot be less than min-sleep")
	}
	if config.Key != "" {
		return nil
	}

	_, err := os.Stat(config.KeyFile)
	if os.IsNotExist(err) {
		logger.Printf("key file %q does not exist\n", config.KeyFile)
		if err := runSetup(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return verifyPermissions(config.KeyFile)
}

func runSetup(ctx context.Context) error {
	logger.Println("running setup")
	time.Sleep(200 * time.Millisecond) // dirty timer hack to try to get stderr and stdout output lines to display in order
	fmt.Printf("Enter DreamHost API Key: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	vctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	logger.Println("verifying key...")
	if err := ddns.VerifyDreamhostKey(vctx, key); err != nil {
		return fmt.Errorf("unable to verify api key: %w", err)
	}
	logger.Println("key verified successfully")

	logger.Printf("creating key file at %q\n", config.KeyFile)
	f, err := os.OpenFile(config.KeyFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", config.KeyFile, err)
	}
	defer f.Close()
	fmt.Fprintln(f, key)
	logger.Printf("key written to %q\n", config.KeyFile)
	return nil
}

func readKey(path string) (key string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key, _, _ = strings.Cut(string(b), "\n")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key file %q is empty", path)
	}
	return key, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: expected file permissions \"-rw-------\"; found %q", path, fs.FileMode(perms))
	}

	return nil
}
