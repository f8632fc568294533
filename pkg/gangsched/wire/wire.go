// Package wire implements the configuration blob wire format of
// SPEC_FULL.md §6: a fixed-size per-domain record, and the container
// putinfo/getinfo exchange over it. It also exposes a YAML rendering
// of the same data for the CLI and for config-file driven boot.
package wire

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/gangsched/gangsched/pkg/gangsched/bitset"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
	"github.com/gangsched/gangsched/pkg/gangsched/ticket"
)

// MaxDomains bounds the number of entries a single configuration blob
// may carry (original: GANG_SCHED_MAX_DOMAINS).
const MaxDomains = 4096

// PolicyRecord is the fixed-size wire encoding of a policy.Policy.
type PolicyRecord struct {
	Kind         uint8
	From         uint64
	Period       uint64
	ActiveTime   uint64
	Weight       uint16
	SpaceFilling uint8
}

// policyRecordSize is the marshalled byte size of a PolicyRecord:
// 1 (kind) + 8*3 (from/period/active_time) + 2 (weight) + 1 (space_filling).
const policyRecordSize = 1 + 8*3 + 2 + 1

// ToPolicy decodes r into a policy.Policy.
func (r PolicyRecord) ToPolicy() policy.Policy {
	from := policy.Time(r.From)
	switch policy.Kind(r.Kind) {
	case policy.KindExclusive:
		return policy.Exclusive(from)
	case policy.KindTT:
		return policy.TimeTriggered(from, policy.Time(r.Period), policy.Time(r.ActiveTime), r.SpaceFilling != 0)
	case policy.KindET:
		return policy.EventTriggered(from, policy.Time(r.Period), policy.Time(r.ActiveTime), r.SpaceFilling != 0)
	case policy.KindBE:
		return policy.BestEffort(from, r.Weight, r.SpaceFilling != 0)
	default:
		return policy.Policy{Kind: policy.KindNotSet}
	}
}

// FromPolicy encodes p into a PolicyRecord.
func FromPolicy(p policy.Policy) PolicyRecord {
	r := PolicyRecord{Kind: uint8(p.Kind), From: uint64(p.From)}
	switch p.Kind {
	case policy.KindTT, policy.KindET:
		r.Period = uint64(p.Period)
		r.ActiveTime = uint64(p.ActiveTime)
	case policy.KindBE:
		r.Weight = p.Weight
	}
	if p.SpaceFilling {
		r.SpaceFilling = 1
	}
	return r
}

// DomainEntry is one domain's configuration line within a blob.
type DomainEntry struct {
	DomID  int32
	CPUMap *bitset.Set
	Policy PolicyRecord
}

// ConfigBlob is the full putinfo/getinfo payload: a bounded array of
// domain entries sized to a fixed CPU-pool width.
type ConfigBlob struct {
	NumCPUs int
	Entries []DomainEntry
}

// Marshal encodes the blob as:
//
//	num_cpus:        uint32
//	num_dom_entries: uint16
//	per entry:       domid int32, cpumap ceil(num_cpus/8) bytes, policy record
func (b *ConfigBlob) Marshal() ([]byte, error) {
	if len(b.Entries) > MaxDomains {
		return nil, fmt.Errorf("wire: %d domain entries exceeds max %d", len(b.Entries), MaxDomains)
	}
	maskBytes := (b.NumCPUs + 7) / 8
	size := 4 + 2 + len(b.Entries)*(4+maskBytes+policyRecordSize)
	out := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint32(out[off:], uint32(b.NumCPUs))
	off += 4
	binary.BigEndian.PutUint16(out[off:], uint16(len(b.Entries)))
	off += 2

	for _, e := range b.Entries {
		binary.BigEndian.PutUint32(out[off:], uint32(e.DomID))
		off += 4
		maskToBytes(e.CPUMap, b.NumCPUs, out[off:off+maskBytes])
		off += maskBytes
		off += putPolicyRecord(out[off:], e.Policy)
	}
	return out, nil
}

// Unmarshal decodes a blob previously produced by Marshal.
func Unmarshal(data []byte) (*ConfigBlob, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("wire: blob too short: %d bytes", len(data))
	}
	numCPUs := int(binary.BigEndian.Uint32(data[0:4]))
	numEntries := int(binary.BigEndian.Uint16(data[4:6]))
	if numEntries > MaxDomains {
		return nil, fmt.Errorf("wire: %d domain entries exceeds max %d", numEntries, MaxDomains)
	}
	maskBytes := (numCPUs + 7) / 8
	off := 6

	entries := make([]DomainEntry, 0, numEntries)
	for i := 0; i < numEntries; i++ {
		if off+4+maskBytes+policyRecordSize > len(data) {
			return nil, fmt.Errorf("wire: truncated blob at entry %d", i)
		}
		domID := int32(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		cpumap := bytesToMask(data[off:off+maskBytes], numCPUs)
		off += maskBytes
		rec, n := getPolicyRecord(data[off:])
		off += n
		entries = append(entries, DomainEntry{DomID: domID, CPUMap: cpumap, Policy: rec})
	}

	return &ConfigBlob{NumCPUs: numCPUs, Entries: entries}, nil
}

func putPolicyRecord(buf []byte, r PolicyRecord) int {
	buf[0] = r.Kind
	binary.BigEndian.PutUint64(buf[1:], r.From)
	binary.BigEndian.PutUint64(buf[9:], r.Period)
	binary.BigEndian.PutUint64(buf[17:], r.ActiveTime)
	binary.BigEndian.PutUint16(buf[25:], r.Weight)
	buf[27] = r.SpaceFilling
	return policyRecordSize
}

func getPolicyRecord(buf []byte) (PolicyRecord, int) {
	return PolicyRecord{
		Kind:         buf[0],
		From:         binary.BigEndian.Uint64(buf[1:]),
		Period:       binary.BigEndian.Uint64(buf[9:]),
		ActiveTime:   binary.BigEndian.Uint64(buf[17:]),
		Weight:       binary.BigEndian.Uint16(buf[25:]),
		SpaceFilling: buf[27],
	}, policyRecordSize
}

func maskToBytes(s *bitset.Set, numCPUs int, out []byte) {
	for i := range out {
		out[i] = 0
	}
	s.Iter(func(cpu int) bool {
		if cpu < numCPUs {
			out[cpu/8] |= 1 << uint(cpu%8)
		}
		return true
	})
}

func bytesToMask(in []byte, numCPUs int) *bitset.Set {
	s := bitset.New(numCPUs)
	for cpu := 0; cpu < numCPUs; cpu++ {
		if in[cpu/8]&(1<<uint(cpu%8)) != 0 {
			s.SetBit(cpu)
		}
	}
	return s
}

// yamlDomain and yamlConfig are the human-facing YAML projection used
// by the CLI (`gangi-ctl dump`) and by config-file driven boot; they
// render CPU masks as sorted id lists rather than raw bitmaps.
type yamlDomain struct {
	DomID        int32  `yaml:"domid"`
	CPUs         []int  `yaml:"cpus"`
	Kind         string `yaml:"kind"`
	FromMs       int64  `yaml:"from_ms,omitempty"`
	PeriodMs     int64  `yaml:"period_ms,omitempty"`
	ActiveMs     int64  `yaml:"active_ms,omitempty"`
	Weight       uint16 `yaml:"weight,omitempty"`
	SpaceFilling bool   `yaml:"space_filling,omitempty"`
}

type yamlConfig struct {
	NumCPUs int          `yaml:"num_cpus"`
	Domains []yamlDomain `yaml:"domains"`
}

// MarshalYAML renders b as human-readable YAML.
func (b *ConfigBlob) MarshalYAML() ([]byte, error) {
	cfg := yamlConfig{NumCPUs: b.NumCPUs}
	for _, e := range b.Entries {
		p := e.Policy.ToPolicy()
		cfg.Domains = append(cfg.Domains, yamlDomain{
			DomID:        e.DomID,
			CPUs:         e.CPUMap.Slice(),
			Kind:         p.Kind.String(),
			FromMs:       nsToMs(p.From),
			PeriodMs:     nsToMs(p.Period),
			ActiveMs:     nsToMs(p.ActiveTime),
			Weight:       p.Weight,
			SpaceFilling: p.SpaceFilling,
		})
	}
	return yaml.Marshal(cfg)
}

// UnmarshalYAML parses YAML produced by MarshalYAML back into a blob.
func UnmarshalYAML(data []byte) (*ConfigBlob, error) {
	var cfg yamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	blob := &ConfigBlob{NumCPUs: cfg.NumCPUs}
	for _, d := range cfg.Domains {
		var kind policy.Kind
		switch d.Kind {
		case "Exclusive":
			kind = policy.KindExclusive
		case "TimeTriggered":
			kind = policy.KindTT
		case "EventTriggered":
			kind = policy.KindET
		case "BestEffort":
			kind = policy.KindBE
		default:
			return nil, fmt.Errorf("wire: unknown policy kind %q for domain %d", d.Kind, d.DomID)
		}
		p := PolicyRecord{
			Kind:         uint8(kind),
			From:         uint64(policy.FromMillis(d.FromMs)),
			Period:       uint64(policy.FromMillis(d.PeriodMs)),
			ActiveTime:   uint64(policy.FromMillis(d.ActiveMs)),
			Weight:       d.Weight,
			SpaceFilling: boolToByte(d.SpaceFilling),
		}
		blob.Entries = append(blob.Entries, DomainEntry{
			DomID:  d.DomID,
			CPUMap: bitset.FromSlice(cfg.NumCPUs, d.CPUs),
			Policy: p,
		})
	}
	return blob, nil
}

func nsToMs(t policy.Time) int64 {
	if t.IsInfinite() {
		return 0
	}
	return int64(t) / 1_000_000
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// DomainID is a convenience accessor matching ticket.DomainID's type.
func (e DomainEntry) DomainID() ticket.DomainID { return ticket.DomainID(e.DomID) }
