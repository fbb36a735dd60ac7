package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pardeike/gabp-server/pkg/gabp"
)

func writeFrame(t *testing.T, conn net.Conn, msg *gabp.Message) {
	t.Helper()
	if err := gabp.WriteTo(conn, msg); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
}

func readFrame(t *testing.T, r *bufio.Reader) *gabp.Message {
	t.Helper()
	var length int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
			if err != nil {
				t.Fatalf("parse Content-Length: %v", err)
			}
			length = n
		}
	}
	body := make([]byte, length)
	if _, err := readFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	var msg gabp.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return &msg
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerStartAcceptsAndAuthenticatesAConnection(t *testing.T) {
	srv := NewServer(Config{
		Host:  "127.0.0.1",
		Port:  0,
		Token: "shared-secret",
		Agent: AgentInfo{AgentID: "agent-1", AppName: "demo", AppVersion: "0.1.0"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	if srv.Port() == 0 {
		t.Fatal("Port() = 0, want a bound ephemeral port")
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hello, err := gabp.NewRequest("r1", "session/hello", map[string]string{
		"token": "shared-secret", "bridgeVersion": "1.0", "platform": "linux", "launchId": "L1",
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	writeFrame(t, conn, hello)

	reader := bufio.NewReader(conn)
	resp := readFrame(t, reader)
	if resp.Error != nil {
		t.Fatalf("hello response error: %+v", resp.Error)
	}

	var welcome map[string]any
	if err := json.Unmarshal(resp.Result, &welcome); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if welcome["agentId"] != "agent-1" {
		t.Errorf("welcome agentId = %v, want agent-1", welcome["agentId"])
	}
}

func TestServerStartTwiceFails(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Token: "t"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("second Start() = nil, want error")
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Token: "t"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestServerRegistersBuiltinChannelsOnConstruct(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Token: "t"})
	channels := srv.Events().List()
	names := map[string]bool{}
	for _, c := range channels {
		names[c.Name] = true
	}
	if !names["system/status"] || !names["system/log"] {
		t.Errorf("channels = %+v, want system/status and system/log registered", channels)
	}
}
