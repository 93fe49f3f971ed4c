// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"strconv"
)

type (
	// Key identifies an event by its (type, id) pair.
	Key struct {
		Type int
		ID   int
	}

	// Linkage holds the inclusive id bounds of one event type. A linkage
	// table is a []Linkage indexed by event type.
	Linkage struct {
		First int
		Last  int
	}

	// Descriptor describes how one kind of event is dispatched. Handle is
	// mandatory, Prepare and Finalize are optional.
	//
	// Prepare is only invoked for messages, and may decode the buffer further.
	// If Finalize is nil, the default release is used (see [Message.Release]
	// and [Timer.Release]). Finalize is not invoked for a message that Handle
	// passed to [Consumer.Call] or [Consumer.Pass].
	Descriptor[T any] struct {
		Prepare  func(T) error
		Handle   func(T) error
		Finalize func(T) error
		Type     int
		ID       int
	}

	// MessageDescriptor is the descriptor of a message event.
	MessageDescriptor = Descriptor[*Message]

	// TimerDescriptor is the descriptor of a timer event.
	TimerDescriptor = Descriptor[*Timer]

	// Table is the cross-indexed event table of a consumer. It is immutable
	// once built, and may be shared between consumers (see Config.Relink).
	Table struct {
		messages kindTable[*Message]
		timers   kindTable[*Timer]
	}

	kindTable[T any] struct {
		links []Linkage
		// slots[type][id-first]
		slots [][]*Descriptor[T]
	}
)

func (k Key) String() string {
	return strconv.Itoa(k.Type) + ":" + strconv.Itoa(k.ID)
}

// Len returns the number of ids covered by the linkage.
func (l Linkage) Len() int {
	return l.Last - l.First + 1
}

// NewTable validates the linkage tables and cross-indexes the flat
// descriptor tables into per-type arrays.
func NewTable(messageLinks []Linkage, timerLinks []Linkage, messages []MessageDescriptor, timers []TimerDescriptor) (*Table, error) {
	var t Table
	if err := t.messages.init(`MessageLinks`, messageLinks); err != nil {
		return nil, err
	}
	if err := t.timers.init(`TimerLinks`, timerLinks); err != nil {
		return nil, err
	}
	for i := range messages {
		if err := t.messages.link(`Messages`, i, &messages[i]); err != nil {
			return nil, err
		}
	}
	for i := range timers {
		if err := t.timers.link(`Timers`, i, &timers[i]); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// MessageLinks returns a copy of the message linkage table.
func (x *Table) MessageLinks() []Linkage {
	return append([]Linkage(nil), x.messages.links...)
}

// TimerLinks returns a copy of the timer linkage table.
func (x *Table) TimerLinks() []Linkage {
	return append([]Linkage(nil), x.timers.links...)
}

// HasMessage reports whether a message descriptor is registered for key.
func (x *Table) HasMessage(key Key) bool {
	_, ok := x.messages.lookup(key)
	return ok
}

// HasTimer reports whether a timer descriptor is registered for key.
func (x *Table) HasTimer(key Key) bool {
	_, ok := x.timers.lookup(key)
	return ok
}

func (x *kindTable[T]) init(field string, links []Linkage) error {
	if links == nil {
		return configErrorf(field, "linkage table is nil")
	}
	if len(links) == 0 {
		return configErrorf(field, "linkage table is empty")
	}
	x.links = append([]Linkage(nil), links...)
	x.slots = make([][]*Descriptor[T], len(links))
	for typ, l := range links {
		if l.First < 0 || l.Last < 0 {
			return configErrorf(field, "type %d: negative id bounds [%d, %d]", typ, l.First, l.Last)
		}
		if l.Last < l.First {
			return configErrorf(field, "type %d: last id %d precedes first id %d", typ, l.Last, l.First)
		}
		x.slots[typ] = make([]*Descriptor[T], l.Len())
	}
	return nil
}

func (x *kindTable[T]) link(field string, index int, d *Descriptor[T]) error {
	if d.Handle == nil {
		return configErrorf(field, "entry %d (%d:%d): nil handle", index, d.Type, d.ID)
	}
	if d.Type < 0 || d.Type >= len(x.links) {
		return configErrorf(field, "entry %d: type %d out of range [0, %d)", index, d.Type, len(x.links))
	}
	l := x.links[d.Type]
	if d.ID < l.First || d.ID > l.Last {
		return configErrorf(field, "entry %d: id %d out of range [%d, %d] for type %d", index, d.ID, l.First, l.Last, d.Type)
	}
	slot := &x.slots[d.Type][d.ID-l.First]
	if *slot != nil {
		return configErrorf(field, "entry %d: duplicate descriptor for %d:%d", index, d.Type, d.ID)
	}
	v := *d
	*slot = &v
	return nil
}

// inRange reports whether key falls within the linkage bounds.
func (x *kindTable[T]) inRange(key Key) bool {
	if key.Type < 0 || key.Type >= len(x.links) {
		return false
	}
	l := x.links[key.Type]
	return key.ID >= l.First && key.ID <= l.Last
}

func (x *kindTable[T]) lookup(key Key) (*Descriptor[T], bool) {
	if !x.inRange(key) {
		return nil, false
	}
	d := x.slots[key.Type][key.ID-x.links[key.Type].First]
	return d, d != nil
}

// firstID returns the first id of the given type, used as the id of
// received messages that have no parser.
func (x *kindTable[T]) firstID(typ int) (int, bool) {
	if typ < 0 || typ >= len(x.links) {
		return 0, false
	}
	return x.links[typ].First, true
}
