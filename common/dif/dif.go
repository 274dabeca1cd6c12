// Package dif holds the data model shared by the IPC Manager, the IPC
// Process daemons and the control-channel codec: DIF information and
// configuration, EFCP connection records, neighbors, and the forwarding
// tables.
package dif

import (
	"time"

	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

// Type tags the flavor of an IPC process.
type Type string

const (
	TypeNormal       Type = "normal"
	TypeShimEthernet Type = "shim-eth-vlan"
	TypeShimTCPUDP   Type = "shim-tcp-udp"
	TypeShimHV       Type = "shim-hv"
)

// DataTransferConstants are the field widths and limits the DIF's EFCP
// instances use on the wire.
type DataTransferConstants struct {
	QoSIDLength          uint16 `yaml:"qos_id_length" json:"qosIdLength"`
	PortIDLength         uint16 `yaml:"port_id_length" json:"portIdLength"`
	CEPIDLength          uint16 `yaml:"cep_id_length" json:"cepIdLength"`
	SequenceNumberLength uint16 `yaml:"sequence_number_length" json:"sequenceNumberLength"`
	AddressLength        uint16 `yaml:"address_length" json:"addressLength"`
	LengthLength         uint16 `yaml:"length_length" json:"lengthLength"`
	MaxPDUSize           uint32 `yaml:"max_pdu_size" json:"maxPduSize"`
	// MaxPDULifetime bounds how long a PDU may live in the DIF, in ms.
	MaxPDULifetime uint32 `yaml:"max_pdu_lifetime" json:"maxPduLifetime"`
	DIFIntegrity   bool   `yaml:"dif_integrity" json:"difIntegrity"`
}

// PolicyParameter is one name/value pair of a policy.
type PolicyParameter struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Policy is a named, versioned policy set with opaque string parameters.
type Policy struct {
	Name       string            `yaml:"name" json:"name"`
	Version    string            `yaml:"version" json:"version"`
	Parameters []PolicyParameter `yaml:"parameters" json:"parameters,omitempty"`
}

// Parameter looks up a policy parameter by name.
func (p Policy) Parameter(name string) (string, bool) {
	for _, pp := range p.Parameters {
		if pp.Name == name {
			return pp.Value, true
		}
	}
	return "", false
}

// LinkStateRoutingConfiguration tunes the link-state routing policy.
type LinkStateRoutingConfiguration struct {
	ObjectMaximumAge       uint32 `yaml:"object_maximum_age" json:"objectMaximumAge"`
	WaitUntilReadCDAP      uint32 `yaml:"wait_until_read_cdap" json:"waitUntilReadCdap"`
	WaitUntilError         uint32 `yaml:"wait_until_error" json:"waitUntilError"`
	WaitUntilPDUFTComputed uint32 `yaml:"wait_until_pduft_computed" json:"waitUntilPduftComputed"`
	WaitUntilFSODBPropagation uint32 `yaml:"wait_until_fsodb_propagation" json:"waitUntilFsodbPropagation"`
	WaitUntilAgeIncrement  uint32 `yaml:"wait_until_age_increment" json:"waitUntilAgeIncrement"`
	RoutingAlgorithm       string `yaml:"routing_algorithm" json:"routingAlgorithm"`
}

// Configuration is the full configuration a DIF hands to its members.
type Configuration struct {
	DataTransferConstants DataTransferConstants `yaml:"data_transfer_constants" json:"dataTransferConstants"`
	// Address is the member's address inside the DIF.
	Address   uint32     `yaml:"address" json:"address"`
	QoSCubes  []qos.Cube `yaml:"qos_cubes" json:"qosCubes"`
	Policies  []Policy   `yaml:"policies" json:"policies,omitempty"`
	PDUFTGeneratorPolicy Policy `yaml:"pduft_generator_policy" json:"pduftGeneratorPolicy"`
	LinkStateRouting LinkStateRoutingConfiguration `yaml:"link_state_routing" json:"linkStateRouting"`
}

// MaxPDULifetime returns the DIF's max PDU lifetime as a duration.
func (c Configuration) MaxPDULifetime() time.Duration {
	return time.Duration(c.DataTransferConstants.MaxPDULifetime) * time.Millisecond
}

// Information identifies a DIF and carries its configuration.
type Information struct {
	Type          Type          `yaml:"type" json:"type"`
	Name          names.APNI    `yaml:"name" json:"name"`
	Configuration Configuration `yaml:"configuration" json:"configuration"`
}

// Neighbor is a peer IPC process this member has enrolled with (or is
// trying to).
type Neighbor struct {
	Name names.APNI `json:"name"`
	// SupportingDIF is the N-1 DIF the neighbor is reached through.
	SupportingDIF names.APNI `json:"supportingDif"`
	// SupportingDIFs are all N-1 DIFs the neighbor advertises.
	SupportingDIFs []names.APNI `json:"supportingDifs,omitempty"`
	Address        uint32       `json:"address"`
	Enrolled       bool         `json:"enrolled"`
	AverageRTT     time.Duration `json:"averageRtt"`
	// UnderlyingPortID is the N-1 flow carrying management traffic.
	UnderlyingPortID   int32     `json:"underlyingPortId"`
	LastHeardFrom      time.Time `json:"lastHeardFrom"`
	EnrollmentAttempts int       `json:"enrollmentAttempts"`
}

// DirectoryEntry maps a registered application name to the address of the
// IPC process it is registered at.
type DirectoryEntry struct {
	AppName names.APNI `json:"appName"`
	Address uint32     `json:"address"`
	// Timestamp is the registration time, used to age out stale entries.
	Timestamp time.Time `json:"timestamp"`
}

// PDUForwardingTableEntry maps (destination address, qos-id) to the N-1
// port-ids PDUs should be forwarded on. Entries are unique by
// (Address, QoSID); the table is only ever replaced as a unit.
type PDUForwardingTableEntry struct {
	Address uint32  `json:"address"`
	QoSID   uint32  `json:"qosId"`
	PortIDs []int32 `json:"portIds"`
}

// RoutingTableEntry is one row of the routing table handed to the PDU
// forwarding table generator.
type RoutingTableEntry struct {
	Address  uint32   `json:"address"`
	QoSID    uint32   `json:"qosId"`
	NextHops []uint32 `json:"nextHops"`
}
