package model

const (
	TypeA    = "A"
	TypeAAAA = "AAAA"
	TypePTR  = "PTR"
)

// ManagedTypes are the record types written on behalf of virtual machines.
var ManagedTypes = []string{TypeA, TypeAAAA, TypePTR}

type Account struct {
	UUID          string
	Name          string
	NetworkDomain string // empty when the account has no override
}

type NIC struct {
	IP4     string
	IP6     string
	IP6CIDR string
}

type VirtualMachine struct {
	UUID         string
	Name         string
	DomainID     string
	DomainSuffix string // empty when the owning domain has no DNS suffix
	Group        string
	NIC          NIC

	IP4PtrName string
	IP4PtrZone string
	IP6PtrName string
	IP6PtrZone string
}

// FQDN is name.domainSuffix, or empty when the suffix is unresolved.
func (vm *VirtualMachine) FQDN() string {
	if vm.DomainSuffix == "" {
		return ""
	}
	return vm.Name + "." + vm.DomainSuffix
}

// Syncable reports whether the VM carries enough to be published.
func (vm *VirtualMachine) Syncable() bool {
	return vm.DomainSuffix != "" && vm.NIC.IP4 != ""
}

type ZoneRecord struct {
	Name      string
	Type      string
	Content   string
	TTL       int
	DomainID  int64
	OrderName string
}

type MappingEntry struct {
	UUID      string
	Record    string
	IPAddress string // empty maps to SQL NULL
}

// Event holds the string fields of a bus message that drive synchronization.
// Absent fields are empty.
type Event struct {
	CommandEventType string
	Status           string
	JobResult        string
	Account          string
	VirtualMachine   string
	Event            string
}
