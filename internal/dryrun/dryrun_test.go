package dryrun

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEnabled(t *testing.T) {
	assert.False(t, IsEnabled(context.Background()))
	assert.True(t, IsEnabled(WithDryRun(context.Background(), true)))
	assert.False(t, IsEnabled(WithDryRun(context.Background(), false)))
}

func TestPreview_Write(t *testing.T) {
	p := &Preview{
		Operation: "assign",
		Targets:   []string{"c1", "c2"},
		Details:   map[string]any{"users": []string{"u1"}, "group": "g1"},
		Warnings:  []string{"c2 is already assigned"},
	}
	var buf bytes.Buffer
	p.Write(&buf)

	assert.Equal(t, "[dry-run] would assign 2 conversations\n"+
		"  c1\n"+
		"  c2\n"+
		"  group: g1\n"+
		"  users: [u1]\n"+
		"  ! c2 is already assigned\n"+
		"No changes made\n", buf.String())
}

func TestPreview_WriteSingle(t *testing.T) {
	var buf bytes.Buffer
	(&Preview{Operation: "pin", Targets: []string{"c1"}}).Write(&buf)
	assert.Equal(t, "[dry-run] would pin 1 conversation\n  c1\nNo changes made\n", buf.String())
}
