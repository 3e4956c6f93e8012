// Package config loads connector configuration from a Java-style properties
// file with -Dkey=value command-line overrides.
package config

import (
	"os"
	"strings"

	"github.com/magiconair/properties"

	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

const (
	// DefaultConfigFile is read when no adaptor.configfile override names
	// another file.
	DefaultConfigFile = "adaptor-config.properties"

	// KeyConfigFile selects the config file to read.
	KeyConfigFile = "adaptor.configfile"
	// KeySysPropertiesFile names an extra properties file whose entries act
	// as defaults below the config file.
	KeySysPropertiesFile = "sys.properties.file"

	KeyGsaHostname         = "gsa.hostname"
	KeyGsaSecure           = "server.secure"
	KeyServerHostname      = "server.hostname"
	KeyServerPort          = "server.port"
	KeyDashboardPort       = "server.dashboardPort"
	KeyMaxWorkerThreads    = "server.maxWorkerThreads"
	KeyQueueCapacity       = "server.queueCapacity"
	KeyFullAccessHosts     = "server.fullAccessHosts"
	KeyFeedName            = "feed.name"
	KeyFeedMaxUrls         = "feed.maxUrls"
	KeyArchiveDirectory    = "feed.archiveDirectory"
	KeyDocIdIsURL          = "docId.isUrl"
	KeyMarkDocsPublic      = "adaptor.markDocsPublic"
	KeyFullListingSchedule = "adaptor.fullListingSchedule"
	KeyIncrementalPollSecs = "adaptor.incrementalPollPeriodSecs"
	KeyTLSCertFile         = "server.tlsCertFile"
	KeyTLSKeyFile          = "server.tlsKeyFile"
	KeyCrawlImmediately    = "feed.crawlImmediatelyBitEnabled"
	KeyCrawlOnce           = "feed.crawlOnceBitEnabled"
	KeyUseCompression      = "feed.useCompression"
)

// Config is the merged view of the properties file and the command-line
// overrides. Values are read-only after Load.
type Config struct {
	p *properties.Properties
}

// ParseFlags splits args into -Dkey=value overrides and the remaining
// arguments.
func ParseFlags(args []string) (map[string]string, []string, error) {
	overrides := map[string]string{}
	var rest []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-D") {
			rest = append(rest, arg)
			continue
		}
		kv := strings.TrimPrefix(arg, "-D")
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, nil, skerr.Fmt("malformed flag %q; want -Dkey=value", arg)
		}
		overrides[key] = value
	}
	return overrides, rest, nil
}

// Load reads configuration for the given command-line arguments. The file
// named by -Dadaptor.configfile (default adaptor-config.properties) is read
// if present; a missing explicitly-named file is an error. gsa.hostname must
// be set somewhere.
func Load(args []string) (*Config, error) {
	overrides, _, err := ParseFlags(args)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	merged := properties.NewProperties()

	// Lowest precedence: the sys properties file.
	if sysFile, ok := overrides[KeySysPropertiesFile]; ok && sysFile != "" {
		sys, err := properties.LoadFile(sysFile, properties.UTF8)
		if err != nil {
			return nil, skerr.Wrapf(err, "loading %s", sysFile)
		}
		merged.Merge(sys)
	}

	configFile, explicit := overrides[KeyConfigFile]
	if !explicit {
		configFile = DefaultConfigFile
	}
	if _, err := os.Stat(configFile); err != nil {
		if explicit {
			return nil, skerr.Wrapf(err, "reading config file %s", configFile)
		}
		sklog.Infof("No %s; using command-line configuration only", configFile)
	} else {
		file, err := properties.LoadFile(configFile, properties.UTF8)
		if err != nil {
			return nil, skerr.Wrapf(err, "loading %s", configFile)
		}
		merged.Merge(file)
		sklog.Infof("Loaded %d configuration entries from %s", merged.Len(), configFile)
	}

	// Highest precedence: -D overrides.
	for key, value := range overrides {
		if _, _, err := merged.Set(key, value); err != nil {
			return nil, skerr.Wrapf(err, "setting %s", key)
		}
	}

	c := &Config{p: merged}
	if c.GsaHostname() == "" {
		return nil, skerr.Fmt("%s is required", KeyGsaHostname)
	}
	return c, nil
}

// GsaHostname is the appliance to feed. Required.
func (c *Config) GsaHostname() string {
	return strings.TrimSpace(c.p.GetString(KeyGsaHostname, ""))
}

// Secure selects HTTPS for both serving and feeding.
func (c *Config) Secure() bool {
	return c.p.GetBool(KeyGsaSecure, false)
}

// ServerHostname is the name the appliance uses to reach the document
// server; it becomes the host of every fed URL. Defaults to the machine's
// hostname.
func (c *Config) ServerHostname() string {
	if h := strings.TrimSpace(c.p.GetString(KeyServerHostname, "")); h != "" {
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// ServerPort is the document server's listen port.
func (c *Config) ServerPort() int {
	return c.p.GetInt(KeyServerPort, 5678)
}

// DashboardPort is the operator dashboard's listen port.
func (c *Config) DashboardPort() int {
	return c.p.GetInt(KeyDashboardPort, 5679)
}

// MaxWorkerThreads bounds concurrent document requests.
func (c *Config) MaxWorkerThreads() int {
	return c.p.GetInt(KeyMaxWorkerThreads, 16)
}

// QueueCapacity bounds requests waiting for a worker.
func (c *Config) QueueCapacity() int {
	return c.p.GetInt(KeyQueueCapacity, 160)
}

// FullAccessHosts lists extra hosts allowed to fetch documents, beside the
// appliance itself.
func (c *Config) FullAccessHosts() []string {
	raw := c.p.GetString(KeyFullAccessHosts, "")
	var ret []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			ret = append(ret, h)
		}
	}
	return ret
}

// TLSCertFile is the PEM certificate used when server.secure is set.
func (c *Config) TLSCertFile() string {
	return c.p.GetString(KeyTLSCertFile, "")
}

// TLSKeyFile is the PEM private key used when server.secure is set.
func (c *Config) TLSKeyFile() string {
	return c.p.GetString(KeyTLSKeyFile, "")
}

// FeedName is the appliance-side datasource name.
func (c *Config) FeedName() string {
	return c.p.GetString(KeyFeedName, "adaptor")
}

// FeedMaxUrls caps records per feed file.
func (c *Config) FeedMaxUrls() int {
	return c.p.GetInt(KeyFeedMaxUrls, 510)
}

// ArchiveDirectory, when non-empty, receives a copy of every feed sent.
func (c *Config) ArchiveDirectory() string {
	return c.p.GetString(KeyArchiveDirectory, "")
}

// DocIdIsURL means identifiers are already URLs and are fed as-is.
func (c *Config) DocIdIsURL() bool {
	return c.p.GetBool(KeyDocIdIsURL, false)
}

// MarkDocsPublic declares every served document public: requests from
// outside the trusted-peer set are answered (without ACLs) instead of
// refused.
func (c *Config) MarkDocsPublic() bool {
	return c.p.GetBool(KeyMarkDocsPublic, false)
}

// FullListingSchedule is the daily HH:MM:SS at which a full push runs.
func (c *Config) FullListingSchedule() string {
	return c.p.GetString(KeyFullListingSchedule, "03:00:00")
}

// IncrementalPollPeriodSecs is the period of incremental pushes; zero
// disables them.
func (c *Config) IncrementalPollPeriodSecs() int {
	return c.p.GetInt(KeyIncrementalPollSecs, 900)
}

// CrawlImmediatelyOverride forces the crawl-immediately bit on every record
// when the key is present.
func (c *Config) CrawlImmediatelyOverride() (bool, bool) {
	return c.boolIfSet(KeyCrawlImmediately)
}

// CrawlOnceOverride forces the crawl-once bit on every record when the key
// is present.
func (c *Config) CrawlOnceOverride() (bool, bool) {
	return c.boolIfSet(KeyCrawlOnce)
}

func (c *Config) boolIfSet(key string) (bool, bool) {
	if _, ok := c.p.Get(key); !ok {
		return false, false
	}
	return c.p.GetBool(key, false), true
}

// UseCompression gzips feed uploads.
func (c *Config) UseCompression() bool {
	return c.p.GetBool(KeyUseCompression, false)
}

// Get returns an arbitrary key, for repository-specific configuration.
func (c *Config) Get(key, def string) string {
	return c.p.GetString(key, def)
}

// Keys returns all configured keys, sorted by the underlying store.
func (c *Config) Keys() []string {
	return c.p.Keys()
}
