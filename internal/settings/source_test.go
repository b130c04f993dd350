package settings

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStaticSource(t *testing.T) {
	snap := Default()
	src := NewStaticSource(snap)

	loaded, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
	assert.Equal(t, "static", src.Name())

	// callers get their own copy
	loaded.CSP.Directives[0].Sources[0] = "changed"
	again, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "self", again.CSP.Directives[0].Sources[0])

	var _ Source = src
	_, ok := interface{}(src).(Writer)
	assert.False(t, ok, "static source must not be writable")
}

func newTestRedisSource(t *testing.T) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisSourceWithClient(client, "test:", Default(), zaptest.NewLogger(t)), mr
}

func TestRedisSource_LoadDefaults(t *testing.T) {
	src, _ := newTestRedisSource(t)

	loaded, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
	assert.Equal(t, "redis", src.Name())
}

func TestRedisSource_Overlay(t *testing.T) {
	src, mr := newTestRedisSource(t)

	mr.HSet("test:csp", "report_only", "true")
	mr.HSet("test:csp", "directives", `[{"name":"script-src","sources":["self","https://cdn.example.com"]}]`)
	mr.HSet("test:hsts", "max_age", "600")
	mr.HSet("test:hsts", "preload", "1")
	mr.HSet("test:permissions_policy", "enabled", "false")
	mr.HSet("test:misc", "headers", `[{"name":"X-Frame-Options","value":"DENY","enabled":true}]`)

	loaded, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.True(t, loaded.CSP.Enabled, "unset fields keep their default")
	assert.True(t, loaded.CSP.ReportOnly)
	assert.Equal(t, []Directive{{Name: "script-src", Sources: []string{"self", "https://cdn.example.com"}}}, loaded.CSP.Directives)
	assert.Equal(t, int64(600), loaded.HSTS.MaxAge)
	assert.True(t, loaded.HSTS.Preload)
	assert.True(t, loaded.HSTS.IncludeSubdomains)
	assert.False(t, loaded.PermissionsPolicy.Enabled)
	assert.Equal(t, []MiscHeader{{Name: "X-Frame-Options", Value: "DENY", Enabled: true}}, loaded.Misc.Headers)
}

func TestRedisSource_LoadInvalidValue(t *testing.T) {
	src, mr := newTestRedisSource(t)

	mr.HSet("test:hsts", "max_age", "forever")

	_, err := src.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hsts.max_age")
}

func TestRedisSource_Set(t *testing.T) {
	src, mr := newTestRedisSource(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		family  string
		key     string
		value   string
		wantErr string
	}{
		{name: "bool", family: FamilyCSP, key: "enabled", value: "false"},
		{name: "int", family: FamilyHSTS, key: "max_age", value: "86400"},
		{name: "json", family: FamilyPermissionsPolicy, key: "features", value: `[{"name":"camera","allow":["self"]}]`},
		{name: "unknown key", family: FamilyCSP, key: "frobnicate", value: "1", wantErr: "unknown setting"},
		{name: "unknown family", family: "cors", key: "enabled", value: "1", wantErr: "unknown setting"},
		{name: "bad bool", family: FamilyHSTS, key: "preload", value: "maybe", wantErr: "invalid value"},
		{name: "bad json", family: FamilyMisc, key: "headers", value: `{`, wantErr: "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := src.Set(ctx, tt.family, tt.key, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.False(t, mr.Exists("test:"+tt.family) && mr.HGet("test:"+tt.family, tt.key) != "")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, mr.HGet("test:"+tt.family, tt.key))
		})
	}

	loaded, err := src.Load(ctx)
	require.NoError(t, err)
	assert.False(t, loaded.CSP.Enabled)
	assert.Equal(t, int64(86400), loaded.HSTS.MaxAge)
	assert.Equal(t, []Feature{{Name: "camera", Allow: []string{"self"}}}, loaded.PermissionsPolicy.Features)

	require.NoError(t, src.Reset(ctx))
	loaded, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}

func TestNewRedisSource(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		src, err := NewRedisSource(&RedisConfig{URL: "invalid-url"}, nil, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, src)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})

	t.Run("connects", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		src, err := NewRedisSource(&RedisConfig{URL: "redis://" + mr.Addr()}, nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer src.Close()

		assert.Equal(t, defaultKeyPrefix, src.keyPrefix)
	})
}
