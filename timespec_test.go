// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimespec_Compare(t *testing.T) {
	for _, tc := range []struct {
		a, b Timespec
		want int
	}{
		{Timespec{1, 0}, Timespec{1, 0}, 0},
		{Timespec{1, 0}, Timespec{2, 0}, -1},
		{Timespec{2, 0}, Timespec{1, 999999999}, 1},
		{Timespec{1, 5}, Timespec{1, 6}, -1},
		{Timespec{1, 6}, Timespec{1, 5}, 1},
	} {
		assert.Equal(t, tc.want, tc.a.Compare(tc.b), "%v vs %v", tc.a, tc.b)
		assert.Equal(t, tc.want < 0, tc.a.Before(tc.b))
	}
}

func TestTimespec_Add(t *testing.T) {
	assert.Equal(t, Timespec{2, 100}, Timespec{1, 999999900}.Add(200))
	assert.Equal(t, Timespec{11, 500}, Timespec{1, 500}.Add(10*time.Second))
	assert.Equal(t, Timespec{0, 999999999}, Timespec{1, 0}.Add(-1))
	assert.Equal(t, Timespec{1, 0}, Timespec{1, 0}.Add(0))
}

func TestTimespec_Sub(t *testing.T) {
	a := Timespec{5, 250}
	b := Timespec{3, 500}
	assert.Equal(t, 2*time.Second-250, a.Sub(b))
	assert.Equal(t, -(2*time.Second - 250), b.Sub(a))
	assert.Equal(t, a, b.Add(a.Sub(b)))
}

func TestClockFunc(t *testing.T) {
	var clock Clock = ClockFunc(func() (Timespec, error) { return Timespec{Sec: 7}, nil })
	now, err := clock.Now()
	assert.NoError(t, err)
	assert.Equal(t, Timespec{Sec: 7}, now)
}
