package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry_lookupMissReturnsFalse(t *testing.T) {
	reg := NewHandlerRegistry()
	_, ok := reg.Lookup(TypeKey{ValueType: "order", Intent: "create"})
	require.False(t, ok)
}

func TestHandlerRegistry_registerAndLookup(t *testing.T) {
	reg := NewHandlerRegistry()
	called := false
	reg.Register("order", "create", RecordProcessorFunc(func(*Context, ProcessingMode, Record, any) error {
		called = true
		return nil
	}))

	proc, ok := reg.Lookup(TypeKey{ValueType: "order", Intent: "create"})
	require.True(t, ok)
	require.NoError(t, proc.Process(nil, ModeProcessing, Record{}, nil))
	require.True(t, called)
}

type lifecycleProbe struct {
	opened, recovered, paused, resumed, closed bool
	failedWith                                 error
}

func (p *lifecycleProbe) OnOpen() error      { p.opened = true; return nil }
func (p *lifecycleProbe) OnRecovered() error { p.recovered = true; return nil }
func (p *lifecycleProbe) OnPaused() error    { p.paused = true; return nil }
func (p *lifecycleProbe) OnResumed() error   { p.resumed = true; return nil }
func (p *lifecycleProbe) OnClose() error     { p.closed = true; return nil }
func (p *lifecycleProbe) OnFailed(err error) { p.failedWith = err }
func (p *lifecycleProbe) Process(*Context, ProcessingMode, Record, any) error { return nil }

func TestHandlerRegistry_registerCollectsLifecycle(t *testing.T) {
	reg := NewHandlerRegistry()
	probe := &lifecycleProbe{}
	reg.Register("order", "create", probe)

	require.Len(t, reg.Lifecycles(), 1)
	require.NoError(t, reg.notifyLifecycle(func(l Lifecycle) error { return l.OnOpen() }))
	require.True(t, probe.opened)
}

func TestRecordValueCache_registerGetPut(t *testing.T) {
	cache := NewRecordValueCache()
	_, ok := cache.Get("unregistered")
	require.False(t, ok)

	cache.RegisterType("order", func() Decoder { return &fakeDecoder{} })
	dec, ok := cache.Get("order")
	require.True(t, ok)
	require.NotNil(t, dec)
	cache.Put("order", dec)

	dec2, ok := cache.Get("order")
	require.True(t, ok)
	require.NotNil(t, dec2)
}

type fakeDecoder struct{ resetCount int }

func (d *fakeDecoder) Decode(payload []byte) (any, error) { return string(payload), nil }
func (d *fakeDecoder) Reset()                              { d.resetCount++ }
