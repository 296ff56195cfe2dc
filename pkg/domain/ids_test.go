package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tokenbank/pkg/domain-errors"
)

// Handles are parsed at trust boundaries, so every parser must reject the
// same hostile and malformed inputs.
func TestParseRegistryID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE registries;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistryID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllHandleTypes_ConsistentBehavior(t *testing.T) {
	valid := uuid.New().String()
	for _, input := range []string{valid, "", "invalid", uuid.Nil.String()} {
		_, errRegistry := ParseRegistryID(input)
		_, errAccount := ParseAccountID(input)
		_, errHolding := ParseHoldingID(input)
		_, errEvent := ParseEventID(input)

		if input == valid {
			require.NoError(t, errRegistry)
			require.NoError(t, errAccount)
			require.NoError(t, errHolding)
			require.NoError(t, errEvent)
			continue
		}
		require.Error(t, errRegistry, input)
		require.Error(t, errAccount, input)
		require.Error(t, errHolding, input)
		require.Error(t, errEvent, input)
	}
}

func TestHandleJSON(t *testing.T) {
	type envelope struct {
		Account AccountID `json:"account_id"`
	}
	want := NewAccountID()

	raw, err := json.Marshal(envelope{Account: want})
	require.NoError(t, err)
	assert.JSONEq(t, `{"account_id":"`+want.String()+`"}`, string(raw))

	var got envelope
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, want, got.Account)

	err = json.Unmarshal([]byte(`{"account_id":"nope"}`), &got)
	require.Error(t, err)
}

func TestIsNil(t *testing.T) {
	assert.True(t, RegistryID{}.IsNil())
	assert.False(t, NewRegistryID().IsNil())
	assert.True(t, HoldingID{}.IsNil())
}
