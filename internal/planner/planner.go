// Package planner computes the zone record mutations a VM lifecycle event implies.
package planner

import (
	"strings"

	"cspdns/internal/model"
)

type Options struct {
	TTL             int
	CommonZone      string
	AddToCommonZone bool
}

// Write is one record to publish into Zone. DomainID is left for the store
// to fill. A Write whose zone is not provisioned is dropped together with
// its mapping.
type Write struct {
	Zone    string
	Record  model.ZoneRecord
	Mapping model.MappingEntry
	// Shared writes replace only the record with the same name, type and
	// content, so several VMs can contribute to one name.
	Shared bool
}

type CreatePlan struct {
	// Purge lists forward names whose A/AAAA records are removed before writing.
	Purge  []string
	Writes []Write
}

// Deletion removes the managed records at Name, restricted to Content when set.
type Deletion struct {
	Name    string
	Content string
}

// PrimaryZone is the zone a VM's records go to besides the common zone.
// The account network domain wins over the VM domain suffix.
func PrimaryZone(acct *model.Account, vm *model.VirtualMachine) string {
	if acct.NetworkDomain != "" {
		return acct.NetworkDomain
	}
	return vm.DomainSuffix
}

// PlanCreate returns the writes for a created or started VM. PTR records
// point at vm.FQDN() whichever zone carries the forward records. They
// are planned only when withPointers is set.
func PlanCreate(acct *model.Account, vm *model.VirtualMachine, opts Options, withPointers bool) CreatePlan {
	plan := CreatePlan{Purge: []string{vm.FQDN()}}

	if opts.AddToCommonZone && opts.CommonZone != "" {
		plan.Writes = append(plan.Writes, forwardWrites(acct, vm, opts, opts.CommonZone, false)...)
	}

	primary := PrimaryZone(acct, vm)
	plan.Writes = append(plan.Writes, forwardWrites(acct, vm, opts, primary, true)...)

	if !withPointers {
		return plan
	}

	target := vm.FQDN()
	if vm.IP4PtrName != "" && vm.IP4PtrZone != "" {
		plan.Writes = append(plan.Writes, pointerWrite(vm, opts, vm.IP4PtrZone, vm.IP4PtrName, target))
	}
	if vm.NIC.IP6 != "" && vm.IP6PtrName != "" && vm.IP6PtrZone != "" {
		plan.Writes = append(plan.Writes, pointerWrite(vm, opts, vm.IP6PtrZone, vm.IP6PtrName, target))
	}
	return plan
}

// PlanDelete turns the mapping rows of a VM into record deletions.
func PlanDelete(entries []model.MappingEntry) []Deletion {
	out := make([]Deletion, 0, len(entries))
	for _, e := range entries {
		out = append(out, Deletion{Name: e.Record, Content: e.IPAddress})
	}
	return out
}

// GroupAlias returns group-<account uuid prefix>.zone, or "" when the group
// has no alphanumeric characters.
func GroupAlias(group, accountUUID, zone string) string {
	var b strings.Builder
	for _, r := range group {
		if ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	prefix := accountUUID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return strings.ToLower(b.String()) + "-" + prefix + "." + zone
}

// forwardWrites plans A/AAAA records for zone, plus the group alias when withAlias is set.
func forwardWrites(acct *model.Account, vm *model.VirtualMachine, opts Options, zone string, withAlias bool) []Write {
	if zone == "" {
		return nil
	}
	fqdn := vm.Name + "." + zone

	var out []Write
	add := func(name, typ, content string, shared bool) {
		m := model.MappingEntry{UUID: vm.UUID, Record: name}
		if shared {
			m.IPAddress = content
		}
		out = append(out, Write{
			Zone: zone,
			Record: model.ZoneRecord{
				Name: name, Type: typ, Content: content, TTL: opts.TTL, OrderName: vm.Name,
			},
			Mapping: m,
			Shared:  shared,
		})
	}

	add(fqdn, model.TypeA, vm.NIC.IP4, false)
	if vm.NIC.IP6 != "" {
		add(fqdn, model.TypeAAAA, vm.NIC.IP6, false)
	}

	if withAlias && vm.Group != "" {
		if alias := GroupAlias(vm.Group, acct.UUID, zone); alias != "" {
			add(alias, model.TypeA, vm.NIC.IP4, true)
			if vm.NIC.IP6 != "" {
				add(alias, model.TypeAAAA, vm.NIC.IP6, true)
			}
		}
	}
	return out
}

func pointerWrite(vm *model.VirtualMachine, opts Options, zone, name, target string) Write {
	return Write{
		Zone:    zone,
		Record:  model.ZoneRecord{Name: name, Type: model.TypePTR, Content: target, TTL: opts.TTL},
		Mapping: model.MappingEntry{UUID: vm.UUID, Record: name},
	}
}
