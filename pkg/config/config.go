// Package config loads runtime settings from the environment, with an
// optional .env file in the data directory.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// UAITVersion is stamped into every issued identity token.
const UAITVersion = "0.1.0"

// DefaultUniversalResolver is the public Universal Resolver endpoint used
// when UNIVERSAL_RESOLVER_URL is not set.
const DefaultUniversalResolver = "https://dev.uniresolver.io/1.0/identifiers/"

// Config holds every tunable the services need.
type Config struct {
	DataDir              string
	UniversalResolverURL string
	DefaultExpiryDays    int

	// Anchoring is optional; everything below may be empty.
	EVMPrivateKey string
	BaseNetwork   string
	BaseRPCURL    string
}

// Load reads .env from the data directory (if present) and then the
// process environment. Missing keys fall back to defaults.
func Load() *Config {
	dataDir := getenv("ATTESTIX_DATA_DIR", ".")
	// A missing .env is not an error; the environment still applies.
	_ = godotenv.Load(filepath.Join(dataDir, ".env"))

	// ATTESTIX_DATA_DIR may itself come from the .env file.
	dataDir = getenv("ATTESTIX_DATA_DIR", dataDir)

	expiryDays := 365
	if v := os.Getenv("DEFAULT_EXPIRY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			expiryDays = n
		}
	}

	return &Config{
		DataDir:              dataDir,
		UniversalResolverURL: getenv("UNIVERSAL_RESOLVER_URL", DefaultUniversalResolver),
		DefaultExpiryDays:    expiryDays,
		EVMPrivateKey:        os.Getenv("EVM_PRIVATE_KEY"),
		BaseNetwork:          getenv("BASE_NETWORK", "sepolia"),
		BaseRPCURL:           os.Getenv("BASE_RPC_URL"),
	}
}

func (c *Config) SigningKeyFile() string  { return filepath.Join(c.DataDir, ".signing_key.json") }
func (c *Config) IdentitiesFile() string  { return filepath.Join(c.DataDir, "identities.json") }
func (c *Config) ReputationFile() string  { return filepath.Join(c.DataDir, "reputation.json") }
func (c *Config) DelegationsFile() string { return filepath.Join(c.DataDir, "delegations.json") }
func (c *Config) ComplianceFile() string  { return filepath.Join(c.DataDir, "compliance.json") }
func (c *Config) CredentialsFile() string { return filepath.Join(c.DataDir, "credentials.json") }
func (c *Config) ProvenanceFile() string  { return filepath.Join(c.DataDir, "provenance.json") }
func (c *Config) AnchorsFile() string     { return filepath.Join(c.DataDir, "anchors.json") }

// BlockchainConfigFile caches per-network state such as registered schema
// UIDs.
func (c *Config) BlockchainConfigFile() string {
	return filepath.Join(c.DataDir, "blockchain_config.json")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
