package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cspdns/internal/model"
	"cspdns/internal/util"
)

// jobResultPrefix namespaces the VM description inside a command completion event.
const jobResultPrefix = "org.apache.cloudstack.api.response.UserVmResponse/virtualmachine/"

// ErrMalformedPayload is returned when an event lacks the fields needed to resolve it.
var ErrMalformedPayload = errors.New("malformed payload")

type vmDescription struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DomainID string `json:"domainid"`
	Group    string `json:"group"`
	NIC      []struct {
		IPAddress  string `json:"ipaddress"`
		IP6Address string `json:"ip6address"`
		IP6CIDR    string `json:"ip6cidr"`
	} `json:"nic"`
}

// Resolver builds accounts and virtual machines from events, asking the
// directory for whatever the event does not carry. Nothing is cached.
type Resolver struct {
	log *logrus.Entry
	dir Directory
}

func NewResolver(log *logrus.Entry, dir Directory) *Resolver {
	return &Resolver{log: log, dir: dir}
}

// ResolveAccount looks up the account referenced by ev. It returns an error
// wrapping ErrNotFound when the directory does not know the account.
func (r *Resolver) ResolveAccount(ev *model.Event) (*model.Account, error) {
	if ev.Account == "" {
		return nil, fmt.Errorf("event has no account: %w", ErrMalformedPayload)
	}
	info, err := r.dir.Account(ev.Account)
	if err != nil {
		return nil, err
	}
	return &model.Account{
		UUID:          ev.Account,
		Name:          strings.ToLower(info.Name),
		NetworkDomain: strings.ToLower(info.NetworkDomain),
	}, nil
}

// ResolveVirtualMachine decodes the VM description of a command completion
// event. A domain that cannot be found or has no DNS suffix leaves
// DomainSuffix empty; a failed directory call is returned as is.
func (r *Resolver) ResolveVirtualMachine(jobResult string) (*model.VirtualMachine, error) {
	var desc vmDescription
	raw := strings.Replace(jobResult, jobResultPrefix, "", 1)
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, fmt.Errorf("decode job result: %v: %w", err, ErrMalformedPayload)
	}
	if desc.ID == "" || desc.Name == "" {
		return nil, fmt.Errorf("job result has no vm id or name: %w", ErrMalformedPayload)
	}

	vm := &model.VirtualMachine{
		UUID:     strings.ToLower(desc.ID),
		Name:     strings.ToLower(desc.Name),
		DomainID: desc.DomainID,
		Group:    desc.Group,
	}

	suffix, err := r.domainSuffix(desc.DomainID)
	if err != nil {
		return nil, err
	}
	vm.DomainSuffix = suffix

	if len(desc.NIC) > 0 {
		nic := desc.NIC[0]
		vm.NIC = model.NIC{IP4: nic.IPAddress, IP6: nic.IP6Address, IP6CIDR: nic.IP6CIDR}
	}
	r.derivePointers(vm)

	return vm, nil
}

func (r *Resolver) domainSuffix(domainID string) (string, error) {
	if domainID == "" {
		return "", nil
	}
	info, err := r.dir.Domain(domainID)
	if errors.Is(err, ErrNotFound) {
		r.log.WithField("domain", domainID).Info("domain not found, vm has no dns suffix")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.ToLower(info.NetworkDomain), nil
}

// derivePointers fills the PTR fields. Addresses that do not parse get no PTR.
func (r *Resolver) derivePointers(vm *model.VirtualMachine) {
	log := r.log.WithField("vm", vm.UUID)

	if vm.NIC.IP4 != "" {
		name, err := util.IPv4PointerName(vm.NIC.IP4)
		if err == nil {
			vm.IP4PtrName = name
			vm.IP4PtrZone, _ = util.IPv4PointerZone(vm.NIC.IP4)
		} else {
			log.WithError(err).Warn("no ipv4 ptr")
		}
	}

	if vm.NIC.IP6 != "" {
		name, err := util.IPv6PointerName(vm.NIC.IP6)
		if err != nil {
			log.WithError(err).Warn("no ipv6 ptr")
			return
		}
		zone, err := util.IPv6PointerZone(vm.NIC.IP6CIDR)
		if err != nil {
			log.WithError(err).Warn("no ipv6 ptr zone")
			return
		}
		if in, _ := util.IPv6InNetwork(vm.NIC.IP6, vm.NIC.IP6CIDR); !in {
			log.WithFields(logrus.Fields{"ipv6": vm.NIC.IP6, "cidr": vm.NIC.IP6CIDR}).
				Warn("ipv6 address outside its network, no ipv6 ptr")
			return
		}
		vm.IP6PtrName = name
		vm.IP6PtrZone = zone
	}
}
