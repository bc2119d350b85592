package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentPath(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{"/orders", "orders", "", false},
		{"/orders/o123", "orders", "o123", false},
		{"orders/o123/", "orders", "o123", false},
		{"/", "", "", true},
		{"/orders/o1/items", "", "", true},
		{"/orders//o1", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := ParseDocumentPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.collection, collection)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestEncodeBody(t *testing.T) {
	body, err := encodeBody(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, body)

	body, err = encodeBody(map[string]int{"b": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, body)

	_, err = encodeBody(make(chan int))
	assert.Error(t, err)
}
