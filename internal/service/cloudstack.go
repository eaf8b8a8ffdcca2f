package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/cloudstack-go/v2/cloudstack"

	"cspdns/internal/config"
)

// ErrNotFound is returned when the orchestration API has no entity with the requested id.
var ErrNotFound = errors.New("not found")

type AccountInfo struct {
	ID            string
	Name          string
	NetworkDomain string
}

type DomainInfo struct {
	ID            string
	Name          string
	NetworkDomain string
}

// Directory is the subset of the orchestration API the resolvers need.
// Implementations return ErrNotFound for an empty result and any other error
// for a failed call.
type Directory interface {
	Account(id string) (*AccountInfo, error)
	Domain(id string) (*DomainInfo, error)
}

type CloudStack struct {
	client *cloudstack.CloudStackClient
}

func NewCloudStack(cfg *config.Config) *CloudStack {
	return &CloudStack{
		client: cloudstack.NewAsyncClient(
			cfg.CloudStack.Endpoint,
			cfg.CloudStack.APIKey,
			cfg.CloudStack.SecretKey,
			cfg.CloudStack.VerifySSL,
		),
	}
}

func (c *CloudStack) Account(id string) (*AccountInfo, error) {
	p := c.client.Account.NewListAccountsParams()
	p.SetId(id)

	result, err := c.client.Account.ListAccounts(p)
	if err != nil {
		return nil, fmt.Errorf("listAccounts id=%s: %w", id, err)
	}
	if len(result.Accounts) == 0 || result.Accounts[0] == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	a := result.Accounts[0]
	return &AccountInfo{
		ID:            a.Id,
		Name:          a.Name,
		NetworkDomain: strings.TrimSpace(a.Networkdomain),
	}, nil
}

func (c *CloudStack) Domain(id string) (*DomainInfo, error) {
	p := c.client.Domain.NewListDomainsParams()
	p.SetId(id)

	result, err := c.client.Domain.ListDomains(p)
	if err != nil {
		return nil, fmt.Errorf("listDomains id=%s: %w", id, err)
	}
	if len(result.Domains) == 0 || result.Domains[0] == nil {
		return nil, fmt.Errorf("domain %s: %w", id, ErrNotFound)
	}

	d := result.Domains[0]
	return &DomainInfo{
		ID:            d.Id,
		Name:          d.Name,
		NetworkDomain: strings.TrimSpace(d.Networkdomain),
	}, nil
}
