package legacybridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
)

type fakeConn struct {
	registerErr error
	registered  []string
}

func (f *fakeConn) Kind() bspclient.Kind { return bspclient.KindExternal }

func (f *fakeConn) Request(ctx context.Context, method bsp.Method, params, result interface{}) error {
	if method == bsp.MethodRegisterForChanges {
		p := params.(*bsp.RegisterForChangesParams)
		if f.registerErr != nil {
			return f.registerErr
		}
		f.registered = append(f.registered, p.URI)
		return nil
	}
	return nil
}

func (f *fakeConn) Notify(ctx context.Context, method bsp.Method, params interface{}) error {
	return nil
}

func (f *fakeConn) Close() error { return nil }

type fakeHandler struct {
	changes  int
	lastURI  string
	lastOpts bsp.SourceKitOptionsResult
}

func (h *fakeHandler) OnBuildTargetDidChange(ctx context.Context, p *bsp.OnBuildTargetDidChangeParams) {
	h.changes++
}
func (h *fakeHandler) OnLogMessage(ctx context.Context, p *bsp.LogMessageParams)     {}
func (h *fakeHandler) OnTaskStart(ctx context.Context, p *bsp.TaskProgressParams)    {}
func (h *fakeHandler) OnTaskProgress(ctx context.Context, p *bsp.TaskProgressParams) {}
func (h *fakeHandler) OnTaskFinish(ctx context.Context, p *bsp.TaskProgressParams)   {}
func (h *fakeHandler) OnFileOptionsChanged(ctx context.Context, p *bsp.FileOptionsChangedParams) {
	h.lastURI = p.URI
	h.lastOpts = p.Options
}

func TestBridgeSourceKitOptionsRegistersThenAnswersFromCache(t *testing.T) {
	conn := &fakeConn{}
	b := New(conn)
	handler := &fakeHandler{}
	b.SetNext(handler)

	var res bsp.SourceKitOptionsResult
	params := &bsp.SourceKitOptionsParams{}
	params.TextDocument.URI = "file:///src/x.swift"

	// Nothing cached yet: registration happens but there's no answer.
	require.NoError(t, b.Request(context.Background(), bsp.MethodSourceKitOptions, params, &res))
	assert.Equal(t, []string{"file:///src/x.swift"}, conn.registered)
	assert.Zero(t, res)

	// The underlying server pushes settings for that file.
	b.OnFileOptionsChanged(context.Background(), &bsp.FileOptionsChangedParams{
		URI:     "file:///src/x.swift",
		Options: bsp.SourceKitOptionsResult{CompilerArguments: []string{"swiftc", "x.swift"}},
	})
	assert.Equal(t, 1, handler.changes, "a pushed options update should invalidate next's cached view")

	res = bsp.SourceKitOptionsResult{}
	require.NoError(t, b.Request(context.Background(), bsp.MethodSourceKitOptions, params, &res))
	assert.Equal(t, []string{"swiftc", "x.swift"}, res.CompilerArguments)
	assert.Len(t, conn.registered, 1, "a cache hit should not re-register")
}

func TestBridgeSourceKitOptionsCachesRegistrationFailure(t *testing.T) {
	conn := &fakeConn{registerErr: assertError("boom")}
	b := New(conn)

	var res bsp.SourceKitOptionsResult
	params := &bsp.SourceKitOptionsParams{}
	params.TextDocument.URI = "file:///src/y.swift"
	require.NoError(t, b.Request(context.Background(), bsp.MethodSourceKitOptions, params, &res))
	assert.Zero(t, res)

	// Second call must not attempt to register again (nothing to assert
	// directly on fakeConn's error path beyond it not panicking, since a
	// second register attempt would also just fail the same way); the
	// cache entry from the first call answers it instead.
	res = bsp.SourceKitOptionsResult{}
	require.NoError(t, b.Request(context.Background(), bsp.MethodSourceKitOptions, params, &res))
	assert.Zero(t, res)
}

func TestBridgePassesThroughOtherMethodsAndNotifications(t *testing.T) {
	conn := &fakeConn{}
	b := New(conn)
	handler := &fakeHandler{}
	b.SetNext(handler)

	assert.Equal(t, bspclient.KindInjected, b.Kind())

	require.NoError(t, b.Request(context.Background(), bsp.MethodRegisterForChanges, &bsp.RegisterForChangesParams{URI: "file:///src/z.swift"}, nil))
	assert.Equal(t, []string{"file:///src/z.swift"}, conn.registered)

	b.OnBuildTargetDidChange(context.Background(), &bsp.OnBuildTargetDidChangeParams{})
	assert.Equal(t, 1, handler.changes)
}

type assertError string

func (e assertError) Error() string { return string(e) }
