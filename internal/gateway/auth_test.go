package gateway_test

import (
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamestation/internal/gateway"
	"github.com/cory-johannsen/gamestation/internal/station"
)

func TestHeaderAuthenticator(t *testing.T) {
	auth := gateway.HeaderAuthenticator{Header: "X-User-ID"}
	tests := []struct {
		name    string
		value   string
		want    station.UserID
		wantErr bool
	}{
		{name: "valid", value: "42", want: 42},
		{name: "padded", value: " 7 ", want: 7},
		{name: "missing", value: "", wantErr: true},
		{name: "not a number", value: "alice", wantErr: true},
		{name: "zero", value: "0", wantErr: true},
		{name: "negative", value: "-3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.value != "" {
				r.Header.Set("X-User-ID", tt.value)
			}
			got, err := auth.Authenticate(r)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, gateway.ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPropertyHeaderAuthenticatorAcceptsPositiveIDs(t *testing.T) {
	auth := gateway.HeaderAuthenticator{Header: "X-User-ID"}
	rapid.Check(t, func(rt *rapid.T) {
		id := rapid.Int64Range(1, 1<<62).Draw(rt, "id")
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("X-User-ID", strconv.FormatInt(id, 10))
		got, err := auth.Authenticate(r)
		if err != nil {
			rt.Fatalf("authenticate %d: %v", id, err)
		}
		assert.Equal(rt, station.UserID(id), got)
	})
}
