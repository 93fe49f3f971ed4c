// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopMessage(*Message) error { return nil }

func noopTimer(*Timer) error { return nil }

func TestNewTable_crossIndex(t *testing.T) {
	table, err := NewTable(
		[]Linkage{{First: 0, Last: 1}, {First: 10, Last: 12}},
		[]Linkage{{First: 5, Last: 5}},
		[]MessageDescriptor{
			{Type: 1, ID: 12, Handle: noopMessage},
			{Type: 0, ID: 0, Handle: noopMessage},
			{Type: 1, ID: 10, Handle: noopMessage},
		},
		[]TimerDescriptor{
			{Type: 0, ID: 5, Handle: noopTimer},
		},
	)
	require.NoError(t, err)

	for _, tc := range []struct {
		key  Key
		want bool
	}{
		{Key{Type: 0, ID: 0}, true},
		{Key{Type: 0, ID: 1}, false},
		{Key{Type: 1, ID: 10}, true},
		{Key{Type: 1, ID: 11}, false},
		{Key{Type: 1, ID: 12}, true},
		{Key{Type: 1, ID: 13}, false},
		{Key{Type: 1, ID: 9}, false},
		{Key{Type: 2, ID: 0}, false},
		{Key{Type: -1, ID: 0}, false},
	} {
		assert.Equal(t, tc.want, table.HasMessage(tc.key), "message %s", tc.key)
	}

	assert.True(t, table.HasTimer(Key{Type: 0, ID: 5}))
	assert.False(t, table.HasTimer(Key{Type: 0, ID: 4}))
	assert.False(t, table.HasMessage(Key{Type: 0, ID: 5}), "kinds are indexed separately")

	d, ok := table.messages.lookup(Key{Type: 1, ID: 12})
	require.True(t, ok)
	assert.Equal(t, Key{Type: 1, ID: 12}, d.key())

	first, ok := table.messages.firstID(1)
	require.True(t, ok)
	assert.Equal(t, 10, first)
	_, ok = table.messages.firstID(2)
	assert.False(t, ok)

	links := table.MessageLinks()
	links[0].Last = 100
	assert.Equal(t, 1, table.MessageLinks()[0].Last, "links are copied")
	assert.Equal(t, []Linkage{{First: 5, Last: 5}}, table.TimerLinks())
}

func TestNewTable_descriptorsAreCopied(t *testing.T) {
	messages := []MessageDescriptor{{Handle: noopMessage}}
	table, err := NewTable([]Linkage{{}}, []Linkage{{}}, messages, nil)
	require.NoError(t, err)

	messages[0].Handle = nil
	d, ok := table.messages.lookup(Key{})
	require.True(t, ok)
	assert.NotNil(t, d.Handle)
}

func TestNewTable_configErrors(t *testing.T) {
	valid := []Linkage{{First: 0, Last: 1}}

	for _, tc := range []struct {
		name         string
		messageLinks []Linkage
		timerLinks   []Linkage
		messages     []MessageDescriptor
		timers       []TimerDescriptor
		field        string
	}{
		{name: "nil message links", timerLinks: valid, field: `MessageLinks`},
		{name: "nil timer links", messageLinks: valid, field: `TimerLinks`},
		{name: "empty links", messageLinks: []Linkage{}, timerLinks: valid, field: `MessageLinks`},
		{name: "negative bounds", messageLinks: []Linkage{{First: -1, Last: 0}}, timerLinks: valid, field: `MessageLinks`},
		{name: "inverted bounds", messageLinks: valid, timerLinks: []Linkage{{First: 2, Last: 1}}, field: `TimerLinks`},
		{
			name:         "nil handle",
			messageLinks: valid,
			timerLinks:   valid,
			messages:     []MessageDescriptor{{}},
			field:        `Messages`,
		},
		{
			name:         "type out of range",
			messageLinks: valid,
			timerLinks:   valid,
			timers:       []TimerDescriptor{{Type: 1, Handle: noopTimer}},
			field:        `Timers`,
		},
		{
			name:         "id out of range",
			messageLinks: valid,
			timerLinks:   valid,
			messages:     []MessageDescriptor{{ID: 2, Handle: noopMessage}},
			field:        `Messages`,
		},
		{
			name:         "duplicate",
			messageLinks: valid,
			timerLinks:   valid,
			timers:       []TimerDescriptor{{ID: 1, Handle: noopTimer}, {ID: 1, Handle: noopTimer}},
			field:        `Timers`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			table, err := NewTable(tc.messageLinks, tc.timerLinks, tc.messages, tc.timers)
			assert.Nil(t, table)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestLinkage_Len(t *testing.T) {
	assert.Equal(t, 1, Linkage{First: 3, Last: 3}.Len())
	assert.Equal(t, 4, Linkage{First: 0, Last: 3}.Len())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "2:7", Key{Type: 2, ID: 7}.String())
}
