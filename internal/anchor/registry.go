// File: internal/anchor/registry.go
package anchor

import (
	"crypto/sha256"
)

// FieldType identifies the Borsh layout of one event field
type FieldType int

const (
	TypeU8 FieldType = iota
	TypeU16
	TypeU32
	TypeU64
	TypeI64
	TypeBool
	TypeString
	TypePubkey
	TypeOptionPubkey
)

// FieldSpec describes one field of an event layout
type FieldSpec struct {
	Name string
	Type FieldType
}

// EventSpec describes one Anchor event layout
type EventSpec struct {
	Name   string
	Fields []FieldSpec
}

// DiscriminatorLength is the Anchor event discriminator size in bytes
const DiscriminatorLength = 8

// Discriminator computes the 8-byte Anchor event discriminator:
// sha256("event:<Name>")[0:8]
func Discriminator(name string) [DiscriminatorLength]byte {
	var disc [DiscriminatorLength]byte
	sum := sha256.Sum256([]byte("event:" + name))
	copy(disc[:], sum[:DiscriminatorLength])
	return disc
}

// Events emitted by the Handcraft program
const (
	EventAssetPurchased      = "AssetPurchased"
	EventStreamRewardVested  = "StreamRewardVested"
	EventTipSent             = "TipSent"
	EventMembershipStarted   = "MembershipStarted"
	EventMembershipRenewed   = "MembershipRenewed"
	EventMembershipCancelled = "MembershipCancelled"
	EventRewardsClaimed      = "RewardsClaimed"
)

// Registry maps event discriminators to their layouts
type Registry struct {
	specs map[[DiscriminatorLength]byte]*EventSpec
}

// NewRegistry creates a registry preloaded with the Handcraft program events
func NewRegistry() *Registry {
	r := &Registry{
		specs: make(map[[DiscriminatorLength]byte]*EventSpec),
	}
	for _, spec := range handcraftEvents() {
		r.Register(spec)
	}
	return r
}

// Register adds an event spec keyed by its computed discriminator
func (r *Registry) Register(spec *EventSpec) {
	r.specs[Discriminator(spec.Name)] = spec
}

// Lookup returns the event spec matching a discriminator
func (r *Registry) Lookup(disc [DiscriminatorLength]byte) (*EventSpec, bool) {
	spec, ok := r.specs[disc]
	return spec, ok
}

// Names returns all registered event names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for _, spec := range r.specs {
		names = append(names, spec.Name)
	}
	return names
}

func handcraftEvents() []*EventSpec {
	return []*EventSpec{
		{
			Name: EventAssetPurchased,
			Fields: []FieldSpec{
				{Name: "asset", Type: TypePubkey},
				{Name: "buyer", Type: TypePubkey},
				{Name: "creator", Type: TypePubkey},
				{Name: "price", Type: TypeU64},
				{Name: "royalty_bps", Type: TypeU16},
				{Name: "rarity", Type: TypeU8},
			},
		},
		{
			Name: EventStreamRewardVested,
			Fields: []FieldSpec{
				{Name: "viewer", Type: TypePubkey},
				{Name: "creator", Type: TypePubkey},
				{Name: "asset", Type: TypePubkey},
				{Name: "rate", Type: TypeU64},
				{Name: "watched_seconds", Type: TypeU32},
				{Name: "duration_seconds", Type: TypeU32},
			},
		},
		{
			Name: EventTipSent,
			Fields: []FieldSpec{
				{Name: "sender", Type: TypePubkey},
				{Name: "recipient", Type: TypePubkey},
				{Name: "asset", Type: TypeOptionPubkey},
				{Name: "amount", Type: TypeU64},
				{Name: "memo", Type: TypeString},
			},
		},
		{
			Name: EventMembershipStarted,
			Fields: []FieldSpec{
				{Name: "subscriber", Type: TypePubkey},
				{Name: "creator", Type: TypePubkey},
				{Name: "tier", Type: TypeU8},
				{Name: "amount", Type: TypeU64},
				{Name: "period_days", Type: TypeU16},
				{Name: "auto_renew", Type: TypeBool},
			},
		},
		{
			Name: EventMembershipRenewed,
			Fields: []FieldSpec{
				{Name: "subscriber", Type: TypePubkey},
				{Name: "creator", Type: TypePubkey},
				{Name: "tier", Type: TypeU8},
				{Name: "amount", Type: TypeU64},
				{Name: "period_days", Type: TypeU16},
			},
		},
		{
			Name: EventMembershipCancelled,
			Fields: []FieldSpec{
				{Name: "subscriber", Type: TypePubkey},
				{Name: "creator", Type: TypePubkey},
				{Name: "refund", Type: TypeU64},
			},
		},
		{
			Name: EventRewardsClaimed,
			Fields: []FieldSpec{
				{Name: "wallet", Type: TypePubkey},
				{Name: "amount", Type: TypeU64},
				{Name: "kind", Type: TypeU8},
				{Name: "claimed_at", Type: TypeI64},
			},
		},
	}
}
