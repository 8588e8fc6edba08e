package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/router"
	"github.com/rickgao/msgrouter/internal/server"
)

// startRouter runs a router behind an httptest server and returns its
// WebSocket URL. Everything is torn down, and leaks checked, at cleanup.
func startRouter(t *testing.T) string {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	r := router.New(router.DefaultConfig(), nil)
	srv := server.New(server.DefaultConfig(), r, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
		ts.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, DefaultConfig(url), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// barrier returns once the router has handled everything c sent before it.
func barrier(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Invoke(ctx, "barrier.none", message.Buffer{})
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func receive(t *testing.T, ch <-chan *message.Topic) *message.Topic {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for publication")
		return nil
	}
}

func TestDial_AssignsDistinctIDs(t *testing.T) {
	url := startRouter(t)

	a := dial(t, url)
	b := dial(t, url)

	assert.NotEmpty(t, a.ID())
	assert.NotEmpty(t, b.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestDial_Unreachable(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, DefaultConfig("ws://127.0.0.1:1/ws"), nil)
	assert.Error(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	url := startRouter(t)
	a := dial(t, url)
	b := dial(t, url)

	got := make(chan *message.Topic, 4)
	_, err := a.Subscribe("news", func(m *message.Topic) { got <- m })
	require.NoError(t, err)
	barrier(t, a)

	require.NoError(t, b.Publish("news", message.BufferFromString(`{"headline":"hi"}`)))

	m := receive(t, got)
	assert.Equal(t, "news", m.Topic)
	assert.Equal(t, `{"headline":"hi"}`, m.Payload.String())
	assert.Equal(t, b.ID(), m.SourceID)
}

func TestSubscribe_SeveralLocalHandlers(t *testing.T) {
	url := startRouter(t)
	a := dial(t, url)
	b := dial(t, url)

	first := make(chan *message.Topic, 4)
	second := make(chan *message.Topic, 4)
	marker := make(chan *message.Topic, 4)

	s1, err := a.Subscribe("news", func(m *message.Topic) { first <- m })
	require.NoError(t, err)
	s2, err := a.Subscribe("news", func(m *message.Topic) { second <- m })
	require.NoError(t, err)
	_, err = a.Subscribe("marker", func(m *message.Topic) { marker <- m })
	require.NoError(t, err)
	barrier(t, a)

	b.Publish("news", message.BufferFromString("1"))
	assert.Equal(t, "1", receive(t, first).Payload.String())
	assert.Equal(t, "1", receive(t, second).Payload.String())

	// Dropping one handler keeps the router subscription.
	require.NoError(t, a.Unsubscribe(s1))
	barrier(t, a)
	b.Publish("news", message.BufferFromString("2"))
	assert.Equal(t, "2", receive(t, second).Payload.String())

	// Dropping the last one releases it.
	require.NoError(t, a.Unsubscribe(s2))
	require.NoError(t, a.Unsubscribe(s2))
	barrier(t, a)
	b.Publish("news", message.BufferFromString("3"))
	b.Publish("marker", message.BufferFromString("end"))
	receive(t, marker)

	assert.Empty(t, first)
	assert.Empty(t, second)
}

func TestSubscribe_ConcurrentResubscribe(t *testing.T) {
	url := startRouter(t)
	a := dial(t, url)
	b := dial(t, url)

	got := make(chan *message.Topic, 64)
	handler := func(m *message.Topic) { got <- m }

	current, err := a.Subscribe("churn", handler)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		old := current
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Unsubscribe(old))
		}()
		go func() {
			defer wg.Done()
			sub, err := a.Subscribe("churn", handler)
			assert.NoError(t, err)
			current = sub
		}()
		wg.Wait()
		barrier(t, a)

		// A local handler is installed, so the router must still deliver.
		require.NoError(t, b.Publish("churn", message.BufferFromString(strconv.Itoa(i))))
		assert.Equal(t, strconv.Itoa(i), receive(t, got).Payload.String())
	}
}

func TestInvoke_RoundTrip(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	sources := make(chan string, 1)
	_, err := callee.RegisterService(context.Background(), "upper", func(_ context.Context, inv *message.Invoke) (message.Buffer, error) {
		if inv.Context != nil {
			sources <- inv.Context.SourceID
		}
		return message.BufferFromString(strings.ToUpper(inv.Payload.String())), nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := caller.Invoke(ctx, "upper", message.BufferFromString(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, `"ABC"`, out.String())
	assert.Equal(t, caller.ID(), <-sources)
}

func TestInvoke_ConcurrentCalls(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	_, err := callee.RegisterService(context.Background(), "echo", func(_ context.Context, inv *message.Invoke) (message.Buffer, error) {
		return inv.Payload, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const calls = 50
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func(i int) {
			want := strings.Repeat("x", i)
			out, err := caller.Invoke(ctx, "echo", message.BufferFromString(`"`+want+`"`))
			if err == nil && out.String() != `"`+want+`"` {
				err = errors.New("mismatched response " + out.String())
			}
			errs <- err
		}(i)
	}
	for i := 0; i < calls; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestInvoke_ServiceNotFound(t *testing.T) {
	url := startRouter(t)
	c := dial(t, url)

	_, err := c.Invoke(context.Background(), "missing", message.Buffer{})
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestInvoke_CalleeErrors(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	_, err := callee.RegisterService(context.Background(), "plain", func(context.Context, *message.Invoke) (message.Buffer, error) {
		return message.Buffer{}, errors.New("boom")
	})
	require.NoError(t, err)
	_, err = callee.RegisterService(context.Background(), "typed", func(context.Context, *message.Invoke) (message.Buffer, error) {
		return message.Buffer{}, message.NewError("quotaExceeded", "%d calls left", 0)
	})
	require.NoError(t, err)

	_, err = caller.Invoke(context.Background(), "plain", message.Buffer{})
	var werr *message.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, message.NameServiceError, werr.Name)
	assert.Equal(t, "boom", werr.Message)

	_, err = caller.Invoke(context.Background(), "typed", message.Buffer{})
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "quotaExceeded", werr.Name)
	assert.Equal(t, "0 calls left", werr.Message)
}

func TestInvoke_ContextDeadline(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	_, err := callee.RegisterService(context.Background(), "slow", func(ctx context.Context, _ *message.Invoke) (message.Buffer, error) {
		<-ctx.Done()
		return message.Buffer{}, ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = caller.Invoke(ctx, "slow", message.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegisterService_Duplicate(t *testing.T) {
	url := startRouter(t)
	a := dial(t, url)
	b := dial(t, url)

	noop := func(context.Context, *message.Invoke) (message.Buffer, error) { return message.Buffer{}, nil }

	reg, err := a.RegisterService(context.Background(), "svc", noop)
	require.NoError(t, err)
	assert.Equal(t, "svc", reg.Name())

	_, err = b.RegisterService(context.Background(), "svc", noop)
	assert.ErrorIs(t, err, ErrDuplicateServiceName)

	_, err = a.RegisterService(context.Background(), "svc", noop)
	assert.ErrorIs(t, err, ErrDuplicateServiceName)

	// Released names can be claimed again.
	require.NoError(t, a.UnregisterService(context.Background(), reg))
	_, err = b.RegisterService(context.Background(), "svc", noop)
	assert.NoError(t, err)
}

func TestUnregisterService(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	reg, err := callee.RegisterService(context.Background(), "svc", func(context.Context, *message.Invoke) (message.Buffer, error) {
		return message.BufferFromString("1"), nil
	})
	require.NoError(t, err)

	_, err = caller.Invoke(context.Background(), "svc", message.Buffer{})
	require.NoError(t, err)

	require.NoError(t, callee.UnregisterService(context.Background(), reg))
	require.NoError(t, callee.UnregisterService(context.Background(), reg))

	_, err = caller.Invoke(context.Background(), "svc", message.Buffer{})
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestInvoke_CalleeDisconnects(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	started := make(chan struct{})
	_, err := callee.RegisterService(context.Background(), "hang", func(ctx context.Context, _ *message.Invoke) (message.Buffer, error) {
		close(started)
		<-ctx.Done()
		return message.Buffer{}, ctx.Err()
	})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := caller.Invoke(context.Background(), "hang", message.Buffer{})
		result <- err
	}()

	<-started
	callee.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("invoke did not fail after callee disconnected")
	}
}

func TestClose_FailsPendingCalls(t *testing.T) {
	url := startRouter(t)
	caller := dial(t, url)
	callee := dial(t, url)

	started := make(chan struct{})
	_, err := callee.RegisterService(context.Background(), "hang", func(ctx context.Context, _ *message.Invoke) (message.Buffer, error) {
		close(started)
		<-ctx.Done()
		return message.Buffer{}, ctx.Err()
	})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := caller.Invoke(context.Background(), "hang", message.Buffer{})
		result <- err
	}()

	<-started
	caller.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("invoke did not fail after close")
	}

	assert.ErrorIs(t, caller.Publish("news", message.Buffer{}), ErrConnectionClosed)
	_, err = caller.Subscribe("news", func(*message.Topic) {})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = caller.Invoke(context.Background(), "hang", message.Buffer{})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestServerStop_ClosesClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := router.New(router.DefaultConfig(), nil)
	srv := server.New(server.DefaultConfig(), r, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, err := Dial(context.Background(), DefaultConfig("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws"), nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client still open after server stop")
	}
}
