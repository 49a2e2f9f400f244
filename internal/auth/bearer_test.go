package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer token1", want: "token1"},
		{name: "missing header", header: "", wantErr: ErrMalformed},
		{name: "empty token", header: "Bearer ", wantErr: ErrMalformed},
		{name: "scheme only", header: "Bearer", wantErr: ErrMalformed},
		{name: "basic scheme", header: "Basic abc", wantErr: ErrMalformed},
		{name: "lowercase scheme", header: "bearer token1", wantErr: ErrMalformed},
		{name: "three parts", header: "Bearer a b", wantErr: ErrMalformed},
		{name: "double space", header: "Bearer  token1", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBearer(tt.header)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticDirectoryResolve(t *testing.T) {
	dir, err := NewStaticDirectory(map[string]string{"token1": "ichi", "token2": "steffo"})
	require.NoError(t, err)
	ctx := context.Background()

	user, err := dir.Resolve(ctx, "token1")
	require.NoError(t, err)
	assert.Equal(t, "ichi", user)

	_, err = dir.Resolve(ctx, "token3")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = dir.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestResolveHeader(t *testing.T) {
	dir, err := NewStaticDirectory(map[string]string{"token1": "ichi"})
	require.NoError(t, err)
	ctx := context.Background()

	user, err := ResolveHeader(ctx, dir, "Bearer token1")
	require.NoError(t, err)
	assert.Equal(t, "ichi", user)

	_, err = ResolveHeader(ctx, dir, "Bearer ")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ResolveHeader(ctx, dir, "Basic abc")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ResolveHeader(ctx, dir, "Bearer nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewStaticDirectoryRejectsBlankEntries(t *testing.T) {
	_, err := NewStaticDirectory(map[string]string{"": "ichi"})
	assert.Error(t, err)
	_, err = NewStaticDirectory(map[string]string{"token1": " "})
	assert.Error(t, err)
}
