// Command client is the Enigma terminal chat client. It connects to the
// relay over TCP, performs the handshake, and renders the conversation in a
// gocui interface with a live active-users pane. In encrypted mode every
// payload is a Fernet token; the relay only ever sees opaque strings.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fernet/fernet-go"
	"github.com/jroimartin/gocui"
)

type clientConfig struct {
	Username string `env:"USER_NAME"`
	Host     string `env:"SERVER_HOST" envDefault:"localhost"`
	Port     int    `env:"SERVER_PORT" envDefault:"8000"`
	Key      string `env:"DECRYPTION_KEY"`
}

// wireMessage covers every shape the relay produces: system notices,
// presence updates, and relayed chat frames.
type wireMessage struct {
	System   bool     `json:"system"`
	Text     string   `json:"text"`
	Users    []string `json:"users"`
	Username string   `json:"username"`
	Payload  string   `json:"payload"`
}

func main() {
	genKey := flag.Bool("genkey", false, "print a freshly generated encryption key and exit")
	plain := flag.Bool("plain", false, "join the unencrypted group")
	userFlag := flag.String("user", "", "username (overrides USER_NAME)")
	hostFlag := flag.String("host", "", "server host (overrides SERVER_HOST)")
	portFlag := flag.Int("port", 0, "server port (overrides SERVER_PORT)")
	keyFlag := flag.String("key", "", "encryption key (overrides DECRYPTION_KEY)")
	flag.Parse()

	if *genKey {
		var key fernet.Key
		if err := key.Generate(); err != nil {
			log.Fatalf("Error generating key: %v", err)
		}
		fmt.Println(key.Encode())
		return
	}

	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Error parsing environment: %v", err)
	}
	if *userFlag != "" {
		cfg.Username = *userFlag
	}
	if *hostFlag != "" {
		cfg.Host = *hostFlag
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	if *keyFlag != "" {
		cfg.Key = *keyFlag
	}

	if strings.TrimSpace(cfg.Username) == "" {
		log.Fatal("Username cannot be empty; set USER_NAME or pass -user")
	}

	var key *fernet.Key
	if !*plain {
		if cfg.Key == "" {
			log.Fatal("Encrypted mode needs a key; set DECRYPTION_KEY, pass -key, or join with -plain")
		}
		decoded, err := fernet.DecodeKey(cfg.Key)
		if err != nil {
			log.Fatalf("Invalid encryption key: %v", err)
		}
		key = decoded
	}

	app, err := connect(&cfg, key, !*plain)
	if err != nil {
		log.Fatalf("Failed to connect to %s:%d: %v", cfg.Host, cfg.Port, err)
	}
	defer app.conn.Close()

	if err := app.run(); err != nil && err != gocui.ErrQuit {
		log.Fatal(err)
	}
}

// chatApp holds the connection and the UI state. messages and users are
// mutated by the read loop goroutine and rendered on the gocui main loop, so
// both live behind mu.
type chatApp struct {
	gui      *gocui.Gui
	conn     net.Conn
	reader   *bufio.Reader
	writeMu  sync.Mutex
	username string
	key      *fernet.Key

	mu       sync.Mutex
	messages []string
	users    []string
}

func connect(cfg *clientConfig, key *fernet.Key, encrypted bool) (*chatApp, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}

	app := &chatApp{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		username: cfg.Username,
		key:      key,
	}

	handshake := map[string]any{"username": cfg.Username, "encrypted": encrypted}
	if err := app.writeJSON(handshake); err != nil {
		conn.Close()
		return nil, err
	}
	return app, nil
}

func (app *chatApp) run() error {
	gui, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer gui.Close()

	app.gui = gui
	gui.SetManagerFunc(app.layout)
	gui.Cursor = true

	if err := gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, app.submitInput); err != nil {
		return err
	}

	go app.readLoop()

	return gui.MainLoop()
}

func (app *chatApp) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 24
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 4

	if v, err := g.SetView("messages", 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView("users", msgWidth+1, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Active Users"
		v.Wrap = true
	}

	if v, err := g.SetView("input", 0, msgHeight+1, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView("input"); err != nil {
			return err
		}
	}

	return nil
}

func quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func (app *chatApp) submitInput(g *gocui.Gui, v *gocui.View) error {
	text := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	payload := text
	if app.key != nil {
		token, err := fernet.EncryptAndSign([]byte(text), app.key)
		if err != nil {
			app.appendMessage(fmt.Sprintf("[System] Failed to encrypt: %v", err))
			return nil
		}
		payload = string(token)
	}

	if err := app.writeJSON(map[string]string{"username": app.username, "payload": payload}); err != nil {
		app.appendMessage(fmt.Sprintf("[System] Failed to send: %v", err))
		return nil
	}

	app.appendMessage(fmt.Sprintf("[%s] You: %s", timestamp(), text))
	return nil
}

// readLoop renders every relay frame until the connection drops.
func (app *chatApp) readLoop() {
	for {
		line, err := app.reader.ReadBytes('\n')
		if err != nil {
			app.appendMessage("[Disconnected from server]")
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		switch {
		case msg.System && msg.Users != nil:
			app.setUsers(msg.Users)
		case msg.System:
			app.appendMessage(fmt.Sprintf("[%s] [System] %s", timestamp(), msg.Text))
		default:
			app.appendMessage(fmt.Sprintf("[%s] %s: %s", timestamp(), msg.Username, app.decodePayload(msg.Payload)))
		}
	}
}

func (app *chatApp) decodePayload(payload string) string {
	if app.key == nil {
		return payload
	}
	plain := fernet.VerifyAndDecrypt([]byte(payload), 0, []*fernet.Key{app.key})
	if plain == nil {
		return "Decryption failed"
	}
	return string(plain)
}

func (app *chatApp) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	app.writeMu.Lock()
	defer app.writeMu.Unlock()
	_, err = app.conn.Write(append(data, '\n'))
	return err
}

func (app *chatApp) appendMessage(text string) {
	app.mu.Lock()
	app.messages = append(app.messages, text)
	if len(app.messages) > 200 {
		app.messages = app.messages[len(app.messages)-200:]
	}
	app.mu.Unlock()
	app.redraw()
}

func (app *chatApp) setUsers(users []string) {
	app.mu.Lock()
	app.users = users
	app.mu.Unlock()
	app.redraw()
}

func (app *chatApp) redraw() {
	if app.gui == nil {
		return
	}
	app.gui.Update(func(g *gocui.Gui) error {
		app.mu.Lock()
		defer app.mu.Unlock()

		if v, err := g.View("messages"); err == nil {
			v.Clear()
			fmt.Fprintln(v, strings.Join(app.messages, "\n"))
		}
		if v, err := g.View("users"); err == nil {
			v.Clear()
			fmt.Fprintf(v, "Active Users (%d):\n%s", len(app.users), strings.Join(app.users, "\n"))
		}
		return nil
	})
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
