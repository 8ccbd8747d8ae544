package userinteraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadCommands(t *testing.T) {
	in := strings.NewReader("Auto-Call on\n\n   \ndisable  calc \nservers")

	var got []Command
	for cmd := range ReadCommands(context.Background(), in) {
		got = append(got, cmd)
	}

	assert.Equal(t, []Command{
		{Name: "auto-call", Args: []string{"on"}},
		{Name: "disable", Args: []string{"calc"}},
		{Name: "servers", Args: []string{}},
	}, got)
}

func TestReadCommands_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmds := ReadCommands(ctx, strings.NewReader("servers\nservers\n"))
	cancel()

	for range cmds {
	}
}
