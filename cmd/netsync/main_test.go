package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/health"
	"github.com/zsiec/netsync/internal/presence"
	"github.com/zsiec/netsync/internal/transport"
	"github.com/zsiec/netsync/pkg/version"
)

type recordingBroadcaster struct {
	payloads [][]byte
	modes    []transport.DeliveryMode
	err      error
}

func (r *recordingBroadcaster) Broadcast(payload []byte, mode transport.DeliveryMode) error {
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	r.modes = append(r.modes, mode)
	return nil
}

func TestRelay_RebroadcastsReliable(t *testing.T) {
	out := &recordingBroadcaster{}
	r := newRelay(out, nil)

	r.handle(transport.Event{Type: transport.MessageReceived, Payload: []byte("state")})
	r.handle(transport.Event{Type: transport.ClientDisconnected, Reason: transport.TimedOut})

	require.Len(t, out.payloads, 1)
	assert.Equal(t, []byte("state"), out.payloads[0])
	assert.Equal(t, transport.Reliable, out.modes[0])
}

func TestRelay_BroadcastErrorIsNotFatal(t *testing.T) {
	r := newRelay(&recordingBroadcaster{err: transport.ErrQueueFull}, nil)
	assert.NotPanics(t, func() {
		r.handle(transport.Event{Type: transport.MessageReceived, Payload: []byte("x")})
	})
}

func TestRelay_Loopback(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	tc := cfg.Transport
	tc.AcceptRate = 0

	srv, err := transport.NewServer(&tc, nil)
	require.NoError(t, err)
	srv.Subscribe(newRelay(srv, nil).handle)
	require.True(t, srv.Start("127.0.0.1:0", 4))
	defer srv.Close()

	received := make([][]string, 2)
	clients := make([]*transport.Client, 2)
	for i := range clients {
		cli, err := transport.NewClient(&tc, nil)
		require.NoError(t, err)
		idx := i
		cli.Subscribe(func(ev transport.Event) {
			if ev.Type == transport.MessageReceived {
				received[idx] = append(received[idx], string(ev.Payload))
			}
		})
		require.True(t, cli.Connect(srv.Addr().String()))
		defer cli.Close()
		clients[i] = cli
	}

	require.Eventually(t, func() bool {
		srv.Process()
		return srv.ClientCount() == 2
	}, 5*time.Second, 2*time.Millisecond)

	require.NoError(t, clients[0].Send([]byte("move 3 4"), transport.Reliable))

	require.Eventually(t, func() bool {
		for _, c := range clients {
			c.Process()
		}
		srv.Process()
		return len(received[0]) == 1 && len(received[1]) == 1
	}, 5*time.Second, 2*time.Millisecond)

	assert.Equal(t, "move 3 4", received[0][0])
	assert.Equal(t, "move 3 4", received[1][0])
}

func TestOpenPresence(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	mgr := health.NewManager(nil)

	store, client, err := openPresence(context.Background(), cfg, mgr, nil)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Nil(t, client)

	cfg.Presence.Enabled = true
	cfg.Presence.Store = "memory"
	store, client, err = openPresence(context.Background(), cfg, mgr, nil)
	require.NoError(t, err)
	assert.IsType(t, &presence.MemoryStore{}, store)
	assert.Nil(t, client)

	cfg.Presence.Store = "etcd"
	_, _, err = openPresence(context.Background(), cfg, mgr, nil)
	assert.Error(t, err)
}

func TestOpenPresence_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Presence.Enabled = true
	cfg.Presence.Store = "redis"
	cfg.Redis.Addresses = []string{mr.Addr()}

	mgr := health.NewManager(nil)
	store, client, err := openPresence(context.Background(), cfg, mgr, nil)
	require.NoError(t, err)
	defer client.Close()
	assert.IsType(t, &presence.RedisStore{}, store)
	assert.Contains(t, mgr.CheckerNames(), "redis")

	mr.Close()
	_, _, err = openPresence(context.Background(), cfg, health.NewManager(nil), nil)
	assert.Error(t, err)
}

func TestStaleAfter(t *testing.T) {
	assert.Equal(t, time.Second, staleAfter(16*time.Millisecond))
	assert.Equal(t, 5*time.Second, staleAfter(100*time.Millisecond))
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())

	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version.Protocol, info.Protocol)

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "netsync")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "connect", "watch", "version"})
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfgFile = "/nonexistent/netsync.yaml"
	defer func() { cfgFile = "" }()

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestRunClient_ConnectFailure(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Transport.DialTimeout = 500 * time.Millisecond

	err = runClient(context.Background(), cfg, connectOptions{addr: "127.0.0.1:1", mode: "reliable", count: 1}, &bytes.Buffer{})
	assert.Error(t, err)

	err = runClient(context.Background(), cfg, connectOptions{addr: "127.0.0.1:1", mode: "bogus"}, &bytes.Buffer{})
	assert.True(t, err != nil && !errors.Is(err, context.Canceled))
}
