package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"codefusion/client"
	handlers "codefusion/handler"
	"codefusion/internal/account/model"
	"codefusion/protocol"
	"codefusion/workspace"
)

const CollabCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collaboration room control.

The default api url is http://localhost:8080.

Usage:
    collabctl register [--api_url=<api_url>]
        --username=<name>
        --email=<email>
        [--password=<password>]
    collabctl login [--api_url=<api_url>]
        --email=<email>
        [--password=<password>]
    collabctl join [--api_url=<api_url>] [--jwt=<jwt>]
        --room=<room>
        [--username=<name>]
        [--dir=<dir>]
        [--snapshot_timeout=<duration>]
    collabctl export [--api_url=<api_url>] [--jwt=<jwt>]
        --room=<room>
        --username=<name>
        --out=<zip>
    collabctl participants [--api_url=<api_url>] --room=<room>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>              Server base url [default: http://localhost:8080].
    --username=<name>                Name shown to the room.
    --email=<email>
    --password=<password>            Prompted for when omitted.
    --jwt=<jwt>                      Account token; supplies the default username.
    --room=<room>                    Room id.
    --dir=<dir>                      Seed the workspace from a local directory.
    --snapshot_timeout=<duration>    How long to wait for the room's workspace [default: 10s].
    --out=<zip>                      Archive to write.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if register_, _ := opts.Bool("register"); register_ {
		err = register(ctx, opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		err = login(ctx, opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		err = join(ctx, opts)
	} else if export_, _ := opts.Bool("export"); export_ {
		err = export(ctx, opts)
	} else if participants_, _ := opts.Bool("participants"); participants_ {
		err = participants(ctx, opts)
	}
	if err != nil {
		Err.Fatal(err)
	}
}

func register(ctx context.Context, opts docopt.Opts) error {
	apiURL, _ := opts.String("--api_url")
	username, _ := opts.String("--username")
	email, _ := opts.String("--email")
	password, err := readPassword(opts)
	if err != nil {
		return err
	}
	var resp model.AuthResponse
	if err := postJSON(ctx, apiURL+"/api/auth/register", model.RegisterRequest{Username: username, Email: email, Password: password}, &resp); err != nil {
		return err
	}
	Out.Printf("%s", resp.Token)
	return nil
}

func login(ctx context.Context, opts docopt.Opts) error {
	apiURL, _ := opts.String("--api_url")
	email, _ := opts.String("--email")
	password, err := readPassword(opts)
	if err != nil {
		return err
	}
	var resp model.AuthResponse
	if err := postJSON(ctx, apiURL+"/api/auth/login", model.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	Out.Printf("%s", resp.Token)
	return nil
}

func readPassword(opts docopt.Opts) (string, error) {
	if p, err := opts.String("--password"); err == nil && p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// join enters a room and turns stdin lines into chat messages until EOF or
// interrupt. Room events are printed as they arrive.
func join(ctx context.Context, opts docopt.Opts) error {
	room, _ := opts.String("--room")
	username, _ := opts.String("--username")
	c, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if dir, _ := opts.String("--dir"); dir != "" {
		root, err := workspace.Import(os.DirFS(dir), filepath.Base(filepath.Clean(dir)))
		if err != nil {
			return err
		}
		c.Workspace.Restore(workspace.Snapshot{FileStructure: root})
	}

	accepted, err := c.Join(ctx, room, username)
	switch {
	case errors.Is(err, client.ErrSnapshotTimeout):
		Err.Printf("%v; continuing with the local workspace", err)
	case err != nil:
		return err
	}
	Out.Printf("joined %s as %s (%d participants)", room, accepted.Participant.Username, len(accepted.Participants))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return c.Wait()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.SendChat(line); err != nil {
				return err
			}
		case ev := <-c.Events():
			printEvent(ev)
		}
	}
}

func printEvent(ev client.Event) {
	switch ev.Type {
	case protocol.ReceiveMessage:
		p, err := protocol.Decode[protocol.ChatPayload](ev.Payload)
		if err != nil {
			return
		}
		var m protocol.ChatMessage
		if json.Unmarshal(p.Message, &m) == nil {
			Out.Printf("[%s] %s: %s", m.Timestamp, m.Username, m.Message)
		}
	case protocol.UserJoined, protocol.UserDisconnected:
		p, err := protocol.Decode[protocol.ParticipantPayload](ev.Payload)
		if err == nil {
			Out.Printf("* %s %s", p.Participant.Username, strings.TrimPrefix(string(ev.Type), "user-"))
		}
	case protocol.TypingStart, protocol.TypingPause, protocol.DrawingUpdate, protocol.SyncDrawing:
	default:
		Out.Printf("* %s from %s", ev.Type, ev.From)
	}
}

// export joins a room long enough to receive its workspace and writes it
// out as a zip archive.
func export(ctx context.Context, opts docopt.Opts) error {
	room, _ := opts.String("--room")
	username, _ := opts.String("--username")
	out, _ := opts.String("--out")
	c, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	accepted, err := c.Join(ctx, room, username)
	if err != nil {
		return err
	}
	if len(accepted.Participants) <= 1 {
		return fmt.Errorf("room %s is empty; nothing to export", room)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := c.Workspace.WriteArchive(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	Out.Printf("wrote %s", out)
	return nil
}

func participants(ctx context.Context, opts docopt.Opts) error {
	apiURL, _ := opts.String("--api_url")
	room, _ := opts.String("--room")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/rooms/"+url.PathEscape(room)+"/participants", nil)
	if err != nil {
		return err
	}
	var resp handlers.ParticipantsResponse
	if err := do(req, &resp); err != nil {
		return err
	}
	for _, p := range resp.Participants {
		Out.Printf("%s\t%s\t%s", p.ConnectionID, p.Username, p.Status)
	}
	return nil
}

func dial(ctx context.Context, opts docopt.Opts) (*client.Client, error) {
	apiURL, _ := opts.String("--api_url")
	jwt, _ := opts.String("--jwt")
	timeoutStr, _ := opts.String("--snapshot_timeout")
	timeout := 10 * time.Second
	if timeoutStr != "" {
		d, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("--snapshot_timeout: %w", err)
		}
		timeout = d
	}

	wsURL, err := websocketURL(apiURL)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, client.Options{URL: wsURL, Token: jwt, SnapshotTimeout: timeout})
}

func websocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("--api_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func postJSON(ctx context.Context, target string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(msg.String()))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
