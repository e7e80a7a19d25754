package command

import (
	"bufio"
	"flag"
	"net"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/tokvault/tokvaultd/internal/cli/connection"
)

// fakeLineServer is a minimal stand-in for a tokvaultd node's line
// protocol port: it accepts connections and replies "OK\r\n" to
// every command, enough to exercise connect's reachability check.
func fakeLineServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					c.Write([]byte("OK\r\n"))
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

// fakeAdminServer is a minimal stand-in for the admin unix socket: it
// replies a fixed JSON status line to "status" and "OK" to "shutdown".
func fakeAdminServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/admin.sock"

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					line := strings.Fields(scanner.Text())
					if len(line) == 0 {
						continue
					}
					switch line[0] {
					case "status":
						c.Write([]byte(`{"version":"dev","active_connections":2,"raft_role":"leader","raft_term":3,"raft_leader":"node-1","applied_index":42}` + "\n"))
					case "shutdown":
						c.Write([]byte("OK\n"))
					default:
						c.Write([]byte("ERR unknown command\n"))
					}
				}
			}(conn)
		}
	}()

	return path
}

// testContext builds a CLI context wired to a connection manager and
// the given global flag values, for exercising command actions directly.
func testContext(t *testing.T, server, admin string, extra ...string) *cli.Context {
	t.Helper()

	app := &cli.App{
		Name:  "test",
		Flags: globalFlags(),
		Metadata: map[string]any{
			"connMgr": connection.NewManager(),
		},
	}

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range app.Flags {
		f.Apply(set)
	}

	args := []string{"--server", server, "--admin-socket", admin}
	args = append(args, extra...)
	if err := set.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	return cli.NewContext(app, set, nil)
}
