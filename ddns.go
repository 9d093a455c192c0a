package ddns

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"
)

// DefaultResolver is used by clients which did not register a resolver.
var DefaultResolver = OpenDNSResolver()

var discard = log.New(io.Discard, "", log.LstdFlags)

// New returns a DDNSClient which manages the A/AAAA records for hostname.
//
// A DNS provider must be registered with one of the provider options,
// e.g. ddns.UsingDreamhost or ddns.UsingCloudflare.
// The resolver defaults to ddns.DefaultResolver.
func New(hostname string, options ...clientOption) (DDNSClient, error) {
	if hostname == "" {
		return nil, fmt.Errorf("ddns.New: hostname cannot be empty")
	}
	c := &client{
		Resolver: DefaultResolver,
		hostname: hostname,
		logger:   discard,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %s", i, err)
		}
	}

	if c.Provider == nil {
		return nil, fmt.Errorf("ddns.New: no DNS provider was registered and there is no default option - use ddns.UsingDreamhost or similar")
	}

	// this lets us propagate the logger to dependencies that use one if WithLogger was called before all of the dependencies were registered
	withLogger(c.logger)(c)
	return c, nil
}

type clientOption func(*client) error

// UsingDreamhost registers the DreamHost DNS provider,
// authenticated with an API key from https://panel.dreamhost.com/?tree=home.api.
func UsingDreamhost(key string) clientOption {
	return func(c *client) (err error) {
		if c.Provider, err = newDreamhostProvider(key); err != nil {
			return fmt.Errorf("ddns.UsingDreamhost: error creating dreamhost DNS provider: %w", err)
		}
		return nil
	}
}

// UsingCloudflare registers the Cloudflare DNS provider with an API token.
func UsingCloudflare(token string) clientOption {
	return func(c *client) (err error) {
		if c.Provider, err = newCloudflareProvider(token); err != nil {
			return fmt.Errorf("ddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

func UsingResolver(resolver Resolver) clientOption {
	return func(c *client) error {
		if resolver == nil {
			resolver = DefaultResolver
		}
		c.Resolver = resolver
		return nil
	}
}

func withLogger(logger *log.Logger) clientOption {
	return func(c *client) error {
		if logger == nil {
			logger = discard
		}
		type setLogger interface {
			SetLogger(*log.Logger)
		}

		switch p := c.Provider.(type) {
		case *dreamhostProvider:
			p.logger = logger
		case *cloudflareProvider:
			p.logger = logger
		case setLogger:
			p.SetLogger(logger)
		}

		if r, ok := c.Resolver.(setLogger); ok {
			r.SetLogger(logger)
		}

		return nil
	}
}

func WithLogger(logger *log.Logger) clientOption {
	return func(c *client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// UsingHTTPClient replaces the http client used by the resolver and provider,
// for callers that need custom transports, timeouts, or proxies.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(c *client) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		switch r := c.Resolver.(type) {
		case *webResolver:
			r.httpClient = httpclient
		case setHTTPClient:
			r.SetHTTPClient(httpclient)
		}
		switch p := c.Provider.(type) {
		case *cloudflareProvider:
			cloudflare.HTTPClient(httpclient)(p.api)
		case setHTTPClient:
			p.SetHTTPClient(httpclient)
		}
		return nil
	}
}

type DDNSClient interface {
	RunDDNS(ctx context.Context) error
}

type client struct {
	Resolver
	Provider
	logger   *log.Logger
	hostname string
}

// RunDDNS performs one synchronization cycle.
func (c *client) RunDDNS(ctx context.Context) error {
	newIPs, err := c.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("error getting IPs: %w", err)
	}
	if len(newIPs) == 0 {
		return fmt.Errorf("resolver returned 0 addresses")
	}
	c.logger.Printf("got IPs: %+v\n", newIPs)

	if err := c.SetDNSRecords(ctx, c.hostname, newIPs); err != nil {
		return fmt.Errorf("error updating %s with new IPs: %w", c.hostname, err)
	}
	return nil
}

type logf interface {
	Printf(string, ...any)
}

// RunDaemon starts ddnsClient as a goroutine.
//
// The first cycle runs immediately.
// After a successful cycle the next one runs minSleep later.
// Each failed cycle is logged and stretches the wait by another minSleep,
// capped at maxSleep, so a dead network or a revoked key does not produce a
// hot retry loop. A successful cycle resets the wait to minSleep.
//
// A nil logger for a DDNSClient supplied by this library indicates that the daemon should send error logs to the logger configured in the client.
// Otherwise the default is to discard log messages.
func RunDaemon(ddnsClient DDNSClient, ctx context.Context, minSleep, maxSleep time.Duration, logger logf) {
	if minSleep <= 0 {
		minSleep = 40 * time.Second
	}
	if maxSleep < minSleep {
		maxSleep = minSleep
	}
	if logger == nil {
		if c, ok := ddnsClient.(*client); ok && c.logger != nil {
			logger = c.logger
		} else {
			logger = discard
		}
	}
	go func() {
		var sleep time.Duration
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if err := ddnsClient.RunDDNS(ctx); err != nil {
				logger.Printf("ddns.RunDaemon: %s", err)
				sleep = min(sleep+minSleep, maxSleep)
			} else {
				sleep = minSleep
			}
			timer.Reset(sleep)
		}
	}()
}
