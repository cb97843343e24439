package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRedis speaks enough RESP2 for the state store
type fakeRedis struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis(t *testing.T) *fakeRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeRedis{ln: ln, data: map[string]string{}}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeRedis) addr() string { return f.ln.Addr().String() }

func (f *fakeRedis) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if _, err := conn.Write([]byte(f.exec(args))); err != nil {
			return
		}
	}
}

func (f *fakeRedis) exec(args []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "HELLO":
		return "-ERR unknown command 'HELLO'\r\n"
	case "PING":
		return "+PONG\r\n"
	case "SET":
		key, val := args[1], args[2]
		nx := false
		for _, a := range args[3:] {
			if strings.EqualFold(a, "NX") {
				nx = true
			}
		}
		if _, exists := f.data[key]; exists && nx {
			return "$-1\r\n"
		}
		f.data[key] = val
		return "+OK\r\n"
	case "GETDEL":
		val, ok := f.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		delete(f.data, args[1])
		return fmt.Sprintf("$%d\r\n%s\r\n", len(val), val)
	default:
		return "+OK\r\n"
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func newTestStore(t *testing.T) *RedisStateStore {
	t.Helper()
	srv := newFakeRedis(t)
	client := redis.NewClient(&redis.Options{Addr: srv.addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateStore(client, time.Minute)
}

func TestRedisStateStore_SaveConsume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Save(ctx, "state-1", OAuthState{Next: "/dashboard", CreatedAt: created}))

	got, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", got.Next)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = store.Consume(ctx, "state-1")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStateStore_SaveRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "dup", OAuthState{CreatedAt: time.Now()}))
	assert.Error(t, store.Save(ctx, "dup", OAuthState{CreatedAt: time.Now()}))
}

func TestRedisStateStore_UnknownState(t *testing.T) {
	_, err := newTestStore(t).Consume(context.Background(), "never-saved")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStateStore_Ping(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url", zap.NewNop())
	assert.Error(t, err)

	srv := newFakeRedis(t)
	client, err := NewRedisClient(context.Background(), "redis://"+srv.addr()+"/0", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestStateKey(t *testing.T) {
	assert.Equal(t, "wndmngr:oauth_state:abc", stateKey("abc"))
}
