package storage

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

	"talent-search/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respServer 极简 RESP2 服务，行为按 Redis 6：不认识 HELLO，EXPIRE 不接受 NX 等参数
type respServer struct {
	ln net.Listener

	mu       sync.Mutex
	counters map[string]int64
	commands [][]string
}

func newRESPServer(t *testing.T) *respServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &respServer{ln: ln, counters: map[string]int64{}}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *respServer) addr() string { return s.ln.Addr().String() }

func (s *respServer) recorded(name string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for _, cmd := range s.commands {
		if strings.EqualFold(cmd[0], name) {
			out = append(out, cmd)
		}
	}
	return out
}

func (s *respServer) serve(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	var queued [][]string
	inMulti, aborted := false, false
	for {
		cmd, err := readCommand(rd)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		var reply string
		name := strings.ToUpper(cmd[0])
		switch {
		case name == "HELLO":
			reply = "-ERR unknown command 'HELLO'\r\n"
		case name == "MULTI":
			inMulti, aborted, queued = true, false, nil
			reply = "+OK\r\n"
		case name == "EXEC":
			if aborted {
				reply = "-EXECABORT Transaction discarded because of previous errors.\r\n"
			} else {
				reply = fmt.Sprintf("*%d\r\n", len(queued))
				for _, q := range queued {
					reply += s.apply(q)
				}
			}
			inMulti, queued = false, nil
		case inMulti:
			if name == "EXPIRE" && len(cmd) != 3 {
				aborted = true
				reply = "-ERR wrong number of arguments for 'expire' command\r\n"
			} else {
				queued = append(queued, cmd)
				reply = "+QUEUED\r\n"
			}
		default:
			reply = s.apply(cmd)
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (s *respServer) apply(cmd []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToUpper(cmd[0]) {
	case "INCR":
		s.counters[cmd[1]]++
		return fmt.Sprintf(":%d\r\n", s.counters[cmd[1]])
	case "EXPIRE":
		return ":1\r\n"
	default:
		return "+OK\r\n"
	}
}

func readCommand(rd *bufio.Reader) ([]string, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := rd.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestIncrWindowOnRedis6(t *testing.T) {
	srv := newRESPServer(t)
	client := redis.NewClient(&redis.Options{Addr: srv.addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = client.Close() })
	r := &Redis{Client: client, config: &config.RedisConfig{}}

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	n, err := r.IncrWindow(ctx, "recruiter-a", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.IncrWindow(ctx, "recruiter-a", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "同一分钟窗口内累加")

	n, err = r.IncrWindow(ctx, "recruiter-b", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.IncrWindow(ctx, "recruiter-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "下一个窗口重新计数")

	expires := srv.recorded("EXPIRE")
	require.Len(t, expires, 4)
	for _, cmd := range expires {
		assert.Equal(t, []string{"expire", cmd[1], "120"}, cmd)
	}
}
