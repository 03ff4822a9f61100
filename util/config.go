package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "inkpot"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                string
		HttpPort            int      `yaml:"httpPort"`
		SslDomain           string   `yaml:"sslDomain"`
		Proxy               string   `yaml:"proxy"`
		BlockedInstances    []string `yaml:"blockedInstances"`
		DbPath              string   `yaml:"dbPath"`
		DbMaxConns          int      `yaml:"dbMaxConns"`
		DeliveryWorkers     int      `yaml:"deliveryWorkers"`
		DeliveryQueue       int      `yaml:"deliveryQueue"`
		EnrichWorkers       int      `yaml:"enrichWorkers"`
		EnrichQueue         int      `yaml:"enrichQueue"`
		MaxArticleImport    int      `yaml:"maxArticleImport"`
		KeyRotationDelayMin int      `yaml:"keyRotationDelayMin"`
		ApiToken            string   `yaml:"apiToken"`
	}
}

// LocalURI builds an absolute URI under the node's own domain.
func (c *AppConfig) LocalURI(format string, args ...interface{}) string {
	path := fmt.Sprintf(format, args...)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("https://%s%s", c.Conf.SslDomain, path)
}

// InstanceBlocked reports whether a domain is on the configured blocklist.
func (c *AppConfig) InstanceBlocked(domain string) bool {
	for _, blocked := range c.Conf.BlockedInstances {
		if strings.EqualFold(blocked, domain) {
			return true
		}
	}
	return false
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Info("Config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Warn("Could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("Created default config file", "path", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)
	applyDefaults(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("INKPOT_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("INKPOT_HTTPPORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("Invalid INKPOT_HTTPPORT", "value", v)
		} else {
			c.Conf.HttpPort = p
		}
	}
	if v := os.Getenv("INKPOT_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if v := os.Getenv("INKPOT_PROXY"); v != "" {
		c.Conf.Proxy = v
	}
	if v := os.Getenv("INKPOT_BLOCKED_INSTANCES"); v != "" {
		c.Conf.BlockedInstances = strings.Split(v, ",")
	}
	if v := os.Getenv("INKPOT_DBPATH"); v != "" {
		c.Conf.DbPath = v
	}
	if v := os.Getenv("INKPOT_API_TOKEN"); v != "" {
		c.Conf.ApiToken = v
	}
	if v := os.Getenv("INKPOT_ENRICH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("Invalid INKPOT_ENRICH_WORKERS", "value", v)
		} else {
			c.Conf.EnrichWorkers = n
		}
	}
}

// applyDefaults fills bounds that must never be zero. The enrichment worker
// bound is deliberately independent from the db connection pool size.
func applyDefaults(c *AppConfig) {
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}
	if c.Conf.DbMaxConns <= 0 {
		c.Conf.DbMaxConns = 25
	}
	if c.Conf.DeliveryWorkers <= 0 {
		c.Conf.DeliveryWorkers = 8
	}
	if c.Conf.DeliveryQueue <= 0 {
		c.Conf.DeliveryQueue = 1024
	}
	if c.Conf.EnrichWorkers <= 0 {
		c.Conf.EnrichWorkers = 4
	}
	if c.Conf.EnrichQueue <= 0 {
		c.Conf.EnrichQueue = 64
	}
	if c.Conf.MaxArticleImport <= 0 {
		c.Conf.MaxArticleImport = 20
	}
	if c.Conf.KeyRotationDelayMin <= 0 {
		c.Conf.KeyRotationDelayMin = 10
	}
	if c.Conf.ApiToken == "" {
		c.Conf.ApiToken = RandomString(40)
		log.Info("No apiToken configured, generated one", "token", c.Conf.ApiToken)
	}
}
