package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInviteSetJSON(t *testing.T) {
	s := NewInviteSet("30", "10", "20")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["10","20","30"]`, string(data))

	var decoded InviteSet
	require.NoError(t, json.Unmarshal([]byte(`["b","a","b"]`), &decoded))
	assert.Len(t, decoded, 2)
	assert.True(t, decoded.Has("a"))
	assert.True(t, decoded.Has("b"))

	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &decoded))
}

func TestInviteSetAdd(t *testing.T) {
	s := NewInviteSet()
	assert.True(t, s.Add("1"))
	assert.False(t, s.Add("1"))
	s.Remove("1")
	assert.False(t, s.Has("1"))
}

func TestLedgerClone(t *testing.T) {
	l := NewLedger()
	rec := NewUserRecord()
	rec.Points = 10
	rec.Invitees.Add("2")
	rec.Daily["2024-01-01"] = json.RawMessage(`true`)
	l.Users["1"] = rec
	l.Users["2"] = NewUserRecord()

	c := l.Clone()
	c.Users["1"].Points = 99
	c.Users["1"].Invitees.Add("3")
	c.Users["1"].Daily["x"] = json.RawMessage(`1`)

	assert.Equal(t, int64(10), l.Users["1"].Points)
	assert.False(t, l.Users["1"].Invitees.Has("3"))
	assert.NotContains(t, l.Users["1"].Daily, "x")
}

func TestLedgerValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Ledger
		wantErr bool
	}{
		{
			name:  "пустой леджер",
			build: NewLedger,
		},
		{
			name: "корректная связь",
			build: func() *Ledger {
				l := NewLedger()
				l.Users["A"] = NewUserRecord()
				l.Users["A"].Invitees.Add("B")
				l.Users["B"] = NewUserRecord()
				return l
			},
		},
		{
			name: "приглашенный отсутствует",
			build: func() *Ledger {
				l := NewLedger()
				l.Users["A"] = NewUserRecord()
				l.Users["A"].Invitees.Add("B")
				return l
			},
			wantErr: true,
		},
		{
			name: "самоприглашение",
			build: func() *Ledger {
				l := NewLedger()
				l.Users["A"] = NewUserRecord()
				l.Users["A"].Invitees.Add("A")
				return l
			},
			wantErr: true,
		},
		{
			name: "два реферера у одного приглашенного",
			build: func() *Ledger {
				l := NewLedger()
				l.Users["A"] = NewUserRecord()
				l.Users["B"] = NewUserRecord()
				l.Users["C"] = NewUserRecord()
				l.Users["A"].Invitees.Add("C")
				l.Users["B"].Invitees.Add("C")
				return l
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLedgerMarshalJSON(t *testing.T) {
	l := NewLedger()
	l.Users["1"] = NewUserRecord()
	l.Users["1"].Points = 10
	l.Users["1"].Invitees.Add("2")
	l.Users["2"] = NewUserRecord()

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"points":10,"invites":["2"],"daily":{}},"2":{"points":0,"invites":[],"daily":{}}}`, string(data))
}
