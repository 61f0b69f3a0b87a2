package tools

import (
	"sync"
	"time"

	"github.com/VibeTensor/attestix/pkg/agentcard"
	"github.com/VibeTensor/attestix/pkg/anchor"
	"github.com/VibeTensor/attestix/pkg/compliance"
	"github.com/VibeTensor/attestix/pkg/config"
	"github.com/VibeTensor/attestix/pkg/credential"
	"github.com/VibeTensor/attestix/pkg/delegation"
	"github.com/VibeTensor/attestix/pkg/did"
	"github.com/VibeTensor/attestix/pkg/identity"
	"github.com/VibeTensor/attestix/pkg/keys"
	"github.com/VibeTensor/attestix/pkg/provenance"
	"github.com/VibeTensor/attestix/pkg/reputation"
	"github.com/VibeTensor/attestix/pkg/signed"
	"github.com/VibeTensor/attestix/pkg/ssrf"
	"github.com/VibeTensor/attestix/pkg/store"
)

// serviceTTL bounds how long a constructed service is reused before being
// rebuilt, so long-running processes pick up on-disk state from siblings.
const serviceTTL = 10 * time.Minute

// Container wires services on demand. The signing key and kernel are
// process-wide singletons; services are cached with a TTL.
type Container struct {
	cfg    *config.Config
	key    *keys.ServerKey
	kernel *signed.Kernel
	guard  *ssrf.Guard
	ledger anchor.Ledger

	mu      sync.Mutex
	entries map[string]containerEntry

	now func() time.Time
}

type containerEntry struct {
	svc     interface{}
	expires time.Time
}

// NewContainer loads the server key and prepares the service cache. ledger
// may be nil for local-only mode.
func NewContainer(cfg *config.Config, ledger anchor.Ledger) (*Container, error) {
	key, err := keys.LoadOrCreateServerKey(cfg.SigningKeyFile())
	if err != nil {
		return nil, err
	}
	return &Container{
		cfg:     cfg,
		key:     key,
		kernel:  signed.NewKernel(key),
		guard:   &ssrf.Guard{},
		ledger:  ledger,
		entries: map[string]containerEntry{},
		now:     time.Now,
	}, nil
}

func (c *Container) ServerDID() string { return c.key.DID }

func (c *Container) service(name string, build func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok && c.now().Before(e.expires) {
		return e.svc, nil
	}
	svc, err := build()
	if err != nil {
		return nil, err
	}
	c.entries[name] = containerEntry{svc: svc, expires: c.now().Add(serviceTTL)}
	return svc, nil
}

func (c *Container) Identity() *identity.Service {
	svc, _ := c.service("identity", func() (interface{}, error) {
		return identity.NewService(c.kernel, store.NewCollection(c.cfg.IdentitiesFile()), c.cfg.DefaultExpiryDays), nil
	})
	return svc.(*identity.Service)
}

func (c *Container) Credentials() *credential.Service {
	svc, _ := c.service("credentials", func() (interface{}, error) {
		return credential.NewService(c.kernel, store.NewCollection(c.cfg.CredentialsFile())), nil
	})
	return svc.(*credential.Service)
}

func (c *Container) Delegations() *delegation.Service {
	svc, _ := c.service("delegations", func() (interface{}, error) {
		return delegation.NewService(c.key, store.NewCollection(c.cfg.DelegationsFile())), nil
	})
	return svc.(*delegation.Service)
}

func (c *Container) Reputation() *reputation.Service {
	svc, _ := c.service("reputation", func() (interface{}, error) {
		return reputation.NewService(store.NewCollection(c.cfg.ReputationFile())), nil
	})
	return svc.(*reputation.Service)
}

func (c *Container) Provenance() *provenance.Service {
	svc, _ := c.service("provenance", func() (interface{}, error) {
		return provenance.NewService(c.kernel, store.NewCollection(c.cfg.ProvenanceFile())), nil
	})
	return svc.(*provenance.Service)
}

func (c *Container) Compliance() *compliance.Service {
	// Dependencies resolve before the cache lock; c.mu is not reentrant.
	ident, creds, prov := c.Identity(), c.Credentials(), c.Provenance()
	svc, _ := c.service("compliance", func() (interface{}, error) {
		return compliance.NewService(c.kernel, store.NewCollection(c.cfg.ComplianceFile()),
			ident, creds, prov), nil
	})
	return svc.(*compliance.Service)
}

func (c *Container) Anchors() (*anchor.Service, error) {
	prov := c.Provenance()
	svc, err := c.service("anchors", func() (interface{}, error) {
		return anchor.NewService(c.ledger, c.cfg.BaseNetwork, c.key.DID,
			store.NewCollection(c.cfg.AnchorsFile()), c.cfg.BlockchainConfigFile(), prov)
	})
	if err != nil {
		return nil, err
	}
	return svc.(*anchor.Service), nil
}

func (c *Container) DIDs() *did.Service {
	svc, _ := c.service("dids", func() (interface{}, error) {
		return did.NewService(c.guard, c.cfg.UniversalResolverURL), nil
	})
	return svc.(*did.Service)
}

func (c *Container) AgentCards() *agentcard.Service {
	svc, _ := c.service("agentcards", func() (interface{}, error) {
		return agentcard.NewService(c.guard), nil
	})
	return svc.(*agentcard.Service)
}
