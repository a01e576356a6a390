package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("banner")
	require.ErrorIs(t, err, ErrUnknownKind)
	_, err = ParseKind("")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPayloadValidate(t *testing.T) {
	valid := Payload{
		AssetID:    "a1",
		BucketName: "assets",
		ObjectName: "uploads/a1.png",
		MimeType:   "image/png",
		Type:       KindImage,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"missing asset id", func(p *Payload) { p.AssetID = "" }},
		{"missing bucket", func(p *Payload) { p.BucketName = "" }},
		{"missing object", func(p *Payload) { p.ObjectName = "" }},
		{"missing mime type", func(p *Payload) { p.MimeType = "" }},
		{"unknown type", func(p *Payload) { p.Type = "banner" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidPayload)
		})
	}
}

func TestJobTerminal(t *testing.T) {
	assert.False(t, Job{State: StateWaiting}.Terminal())
	assert.False(t, Job{State: StateActive}.Terminal())
	assert.False(t, Job{State: StateDelayed}.Terminal())
	assert.True(t, Job{State: StateCompleted}.Terminal())
	assert.True(t, Job{State: StateFailed}.Terminal())
}
