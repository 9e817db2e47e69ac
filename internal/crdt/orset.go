// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package crdt implements the observed-remove set used as the membership
// CRDT: adds are tagged with a fresh per-actor dot, removes tombstone only
// the dots the local replica has observed, and merge is the commutative,
// associative, idempotent union of both sides' knowledge.
package crdt

import (
	"bytes"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"go.ciq.dev/peerset/internal/actorid"
	"go.ciq.dev/peerset/internal/peer"
)

// Dot uniquely tags a single add operation: the actor that performed it and
// that actor's sequence number at the time.
type Dot struct {
	Actor actorid.ActorId
	Seq   uint64
}

func (d Dot) less(other Dot) bool {
	if cmp := bytes.Compare(d.Actor[:], other.Actor[:]); cmp != 0 {
		return cmp < 0
	}
	return d.Seq < other.Seq
}

type element struct {
	descriptor peer.Descriptor
	dots       map[Dot]struct{}
}

// ORSet is an observed-remove set of peer descriptors.
type ORSet struct {
	elements map[string]*element // keyed by peer.Descriptor.Name
	removed  map[Dot]struct{}
	nextSeq  map[actorid.ActorId]uint64
}

// New returns an empty OR-Set.
func New() *ORSet {
	return &ORSet{
		elements: make(map[string]*element),
		removed:  make(map[Dot]struct{}),
		nextSeq:  make(map[actorid.ActorId]uint64),
	}
}

// Add tags elem with a fresh dot for actor and records it as live.
func (s *ORSet) Add(elem peer.Descriptor, actor actorid.ActorId) {
	seq := s.nextSeq[actor]
	s.nextSeq[actor] = seq + 1

	e, ok := s.elements[elem.Name]
	if !ok {
		e = &element{dots: make(map[Dot]struct{})}
		s.elements[elem.Name] = e
	}
	e.descriptor = elem
	e.dots[Dot{Actor: actor, Seq: seq}] = struct{}{}
}

// Remove tombstones every dot the local replica currently observes for
// elem. A concurrent add seen later, or a dot never observed here, is
// unaffected: it is not undone by this remove.
func (s *ORSet) Remove(elem peer.Descriptor, _ actorid.ActorId) {
	e, ok := s.elements[elem.Name]
	if !ok {
		return
	}
	for dot := range e.dots {
		s.removed[dot] = struct{}{}
	}
}

// Merge unions this set's knowledge with other's: commutative, associative
// and idempotent. Information is never lost — dots and tombstones from
// both sides are unioned, so a dot stays live unless either side has
// tombstoned it. A replica only tombstones dots it has observed, so a
// concurrent add carrying a fresh dot is never undone by the merge.
func (s *ORSet) Merge(other *ORSet) {
	for name, oe := range other.elements {
		e, ok := s.elements[name]
		if !ok {
			e = &element{descriptor: oe.descriptor, dots: make(map[Dot]struct{})}
			s.elements[name] = e
		}
		for dot := range oe.dots {
			e.dots[dot] = struct{}{}
		}
	}
	for dot := range other.removed {
		s.removed[dot] = struct{}{}
	}
	for actor, seq := range other.nextSeq {
		if seq > s.nextSeq[actor] {
			s.nextSeq[actor] = seq
		}
	}
}

// Value returns the current live elements: peer descriptors with at least
// one dot that has not been tombstoned.
func (s *ORSet) Value() []peer.Descriptor {
	out := make([]peer.Descriptor, 0, len(s.elements))
	for _, e := range s.elements {
		if s.isLive(e) {
			out = append(out, e.descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Contains reports whether name is live in the set.
func (s *ORSet) Contains(name string) bool {
	e, ok := s.elements[name]
	return ok && s.isLive(e)
}

func (s *ORSet) isLive(e *element) bool {
	for dot := range e.dots {
		if _, tombstoned := s.removed[dot]; !tombstoned {
			return true
		}
	}
	return false
}

// Equal reports whether two sets hold identical knowledge: same live and
// tombstoned dots. It is implemented via canonical serialization so that
// two states built up through different merge orders still compare equal.
func (s *ORSet) Equal(other *ORSet) bool {
	a, err := s.Serialize()
	if err != nil {
		return false
	}
	b, err := other.Serialize()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Clone returns a deep copy of s.
func (s *ORSet) Clone() *ORSet {
	clone := New()
	for name, e := range s.elements {
		ce := &element{descriptor: e.descriptor, dots: make(map[Dot]struct{}, len(e.dots))}
		for dot := range e.dots {
			ce.dots[dot] = struct{}{}
		}
		clone.elements[name] = ce
	}
	for dot := range s.removed {
		clone.removed[dot] = struct{}{}
	}
	for actor, seq := range s.nextSeq {
		clone.nextSeq[actor] = seq
	}
	return clone
}

// sortedDots returns e's dots in a canonical order.
func sortedDots(dots map[Dot]struct{}) []Dot {
	out := make([]Dot, 0, len(dots))
	for d := range dots {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Serialize produces a deterministic binary encoding: elements sorted by
// name, dots sorted within each element, a global tombstone list, and the
// per-actor sequence high-water marks, each length-prefixed with varints.
func (s *ORSet) Serialize() ([]byte, error) {
	names := make([]string, 0, len(s.elements))
	for name := range s.elements {
		names = append(names, name)
	}
	sort.Strings(names)

	var b []byte
	b = protowire.AppendVarint(b, uint64(len(names)))

	for _, name := range names {
		e := s.elements[name]
		b = protowire.AppendBytes(b, []byte(e.descriptor.Name))
		b = protowire.AppendBytes(b, []byte(e.descriptor.Address))
		b = protowire.AppendVarint(b, uint64(e.descriptor.Port))

		dots := sortedDots(e.dots)
		b = protowire.AppendVarint(b, uint64(len(dots)))
		for _, d := range dots {
			b = protowire.AppendBytes(b, d.Actor[:])
			b = protowire.AppendVarint(b, d.Seq)
		}
	}

	removed := sortedDots(s.removed)
	b = protowire.AppendVarint(b, uint64(len(removed)))
	for _, d := range removed {
		b = protowire.AppendBytes(b, d.Actor[:])
		b = protowire.AppendVarint(b, d.Seq)
	}

	actors := make([]actorid.ActorId, 0, len(s.nextSeq))
	for a := range s.nextSeq {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, j int) bool { return bytes.Compare(actors[i][:], actors[j][:]) < 0 })

	b = protowire.AppendVarint(b, uint64(len(actors)))
	for _, a := range actors {
		b = protowire.AppendBytes(b, a[:])
		b = protowire.AppendVarint(b, s.nextSeq[a])
	}

	return b, nil
}

// errMalformed wraps a protowire consume failure with context.
func errMalformed(what string) error {
	return fmt.Errorf("malformed membership snapshot: %s", what)
}

func consumeBytes(b []byte, what string) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, errMalformed(what)
	}
	return v, b[n:], nil
}

func consumeVarint(b []byte, what string) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, errMalformed(what)
	}
	return v, b[n:], nil
}

func consumeActor(b []byte, what string) (actorid.ActorId, []byte, error) {
	var id actorid.ActorId
	raw, rest, err := consumeBytes(b, what)
	if err != nil {
		return id, nil, err
	}
	if len(raw) != actorid.Size {
		return id, nil, errMalformed(what)
	}
	copy(id[:], raw)
	return id, rest, nil
}

// Deserialize decodes the binary encoding produced by Serialize, rejecting
// malformed input with a defined error rather than panicking.
func Deserialize(data []byte) (*ORSet, error) {
	s := New()
	b := data

	numElements, b, err := consumeVarint(b, "element count")
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < numElements; i++ {
		var name, address []byte
		var port uint64

		name, b, err = consumeBytes(b, "element name")
		if err != nil {
			return nil, err
		}
		address, b, err = consumeBytes(b, "element address")
		if err != nil {
			return nil, err
		}
		port, b, err = consumeVarint(b, "element port")
		if err != nil {
			return nil, err
		}

		e := &element{
			descriptor: peer.Descriptor{
				Name:    string(name),
				Address: string(address),
				Port:    int(port),
			},
			dots: make(map[Dot]struct{}),
		}

		var numDots uint64
		numDots, b, err = consumeVarint(b, "dot count")
		if err != nil {
			return nil, err
		}

		for j := uint64(0); j < numDots; j++ {
			var actor actorid.ActorId
			var seq uint64

			actor, b, err = consumeActor(b, "dot actor")
			if err != nil {
				return nil, err
			}
			seq, b, err = consumeVarint(b, "dot sequence")
			if err != nil {
				return nil, err
			}
			e.dots[Dot{Actor: actor, Seq: seq}] = struct{}{}
		}

		s.elements[e.descriptor.Name] = e
	}

	numRemoved, b, err := consumeVarint(b, "tombstone count")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numRemoved; i++ {
		var actor actorid.ActorId
		var seq uint64

		actor, b, err = consumeActor(b, "tombstone actor")
		if err != nil {
			return nil, err
		}
		seq, b, err = consumeVarint(b, "tombstone sequence")
		if err != nil {
			return nil, err
		}
		s.removed[Dot{Actor: actor, Seq: seq}] = struct{}{}
	}

	numActors, b, err := consumeVarint(b, "actor count")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numActors; i++ {
		var actor actorid.ActorId
		var seq uint64

		actor, b, err = consumeActor(b, "sequence actor")
		if err != nil {
			return nil, err
		}
		seq, b, err = consumeVarint(b, "sequence value")
		if err != nil {
			return nil, err
		}
		s.nextSeq[actor] = seq
	}

	if len(b) != 0 {
		return nil, errMalformed("trailing bytes")
	}

	return s, nil
}
