package offlinekit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

func TestResolvers(t *testing.T) {
	local := product("p1", map[string]any{"price": 2.0})
	local.Rev = "1-old"
	remote := product("p1", map[string]any{"name": "Widget", "price": 1.0})
	remote.Rev = "3-cur"

	tests := []struct {
		name     string
		resolver ConflictResolver
		found    bool
		fields   map[string]any
		rev      record.Revision
	}{
		{"merge", &ShallowMergeResolver{}, true, map[string]any{"name": "Widget", "price": 2.0}, "3-cur"},
		{"merge without remote", &ShallowMergeResolver{}, false, map[string]any{"price": 2.0}, ""},
		{"remote wins", &RemoteWinsResolver{}, true, map[string]any{"name": "Widget", "price": 1.0}, "3-cur"},
		{"remote wins without remote", &RemoteWinsResolver{}, false, map[string]any{"price": 2.0}, ""},
		{"local wins", &LocalWinsResolver{}, true, map[string]any{"price": 2.0}, "3-cur"},
		{"local wins without remote", &LocalWinsResolver{}, false, map[string]any{"price": 2.0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Conflict{Collection: record.Products, Action: record.ActionUpdate, Local: local}
			if tt.found {
				c.Remote, c.RemoteFound = remote, true
			}
			out, err := tt.resolver.Resolve(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, "p1", out.ID)
			assert.Equal(t, tt.fields, out.Fields)
			assert.Equal(t, tt.rev, out.Rev)
		})
	}

	assert.Equal(t, 2.0, local.Fields["price"], "inputs are not modified")
	assert.Equal(t, 1.0, remote.Fields["price"])
}
