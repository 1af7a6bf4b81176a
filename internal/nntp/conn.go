package nntp

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// State is a Connection's position in the lifecycle state machine:
// Dialing -> Authenticating -> Idle <-> InUse -> {Closing, Broken}.
type State int

const (
	StateDialing State = iota
	StateAuthenticating
	StateIdle
	StateInUse
	StateClosing
	StateBroken
)

// Conn is a live authenticated NNTP session bound to one Provider.
type Conn struct {
	providerIdx int
	text        *textproto.Conn
	raw         net.Conn
	state       State
	lastUsed    time.Time
	selected    string // currently selected newsgroup, empty if none
}

func dial(cfg ProviderConfig, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	addr := cfg.address()

	var raw net.Conn
	var err error
	if cfg.TLS {
		raw, err = tls.DialWithDialer(&d, "tcp", addr, &tls.Config{
			InsecureSkipVerify: cfg.InsecureTLS,
			ServerName:         cfg.Host,
		})
	} else {
		raw, err = d.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("nntp: dial %s: %w", addr, err)
	}

	text := textproto.NewConn(raw)

	// Greeting: 200 (posting allowed) or 201 (no posting).
	code, _, err := text.ReadCodeLine(0)
	if err != nil || (code != 200 && code != 201) {
		raw.Close()
		return nil, fmt.Errorf("nntp: unexpected greeting from %s: code=%d err=%v", addr, code, err)
	}

	c := &Conn{providerIdx: cfg.Index, text: text, raw: raw, state: StateAuthenticating, lastUsed: time.Now()}

	if cfg.Username != "" {
		if err := c.authenticate(cfg.Username, cfg.Password); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.state = StateIdle
	return c, nil
}

func (c *Conn) authenticate(user, pass string) error {
	id, err := c.text.Cmd("AUTHINFO USER %s", user)
	if err != nil {
		return fmt.Errorf("nntp: send authinfo user: %w", err)
	}
	c.text.StartResponse(id)
	code, msg, err := c.text.ReadCodeLine(0)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("nntp: read authinfo user response: %w", err)
	}
	if code == 281 {
		return nil // authenticated without a password
	}
	if code != 381 {
		return fmt.Errorf("nntp: authinfo user rejected: %d %s", code, msg)
	}

	id, err = c.text.Cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return fmt.Errorf("nntp: send authinfo pass: %w", err)
	}
	c.text.StartResponse(id)
	code, msg, err = c.text.ReadCodeLine(0)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("nntp: read authinfo pass response: %w", err)
	}
	if code != 281 {
		return &AuthError{Code: code, Message: msg}
	}
	return nil
}

// AuthError indicates the provider rejected the configured credentials.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("nntp: authentication failed: %d %s", e.Code, e.Message)
}

// ArticleStatus is the outcome of a BODY/STAT request.
type ArticleStatus int

const (
	StatusOK ArticleStatus = iota
	StatusMissing        // 430/423: no such article
	StatusRefused        // other 4xx/5xx
)

// Body issues "BODY <msg-id>" and, on success, streams the dot-stuffed
// body (already de-stuffed, CRLF-normalized by textproto.DotReader)
// into w. It returns the article status so the fetcher (L2) can
// classify missing vs. refused without parsing text.
func (c *Conn) Body(msgID string, w io.Writer) (ArticleStatus, error) {
	c.state = StateInUse
	defer func() { c.lastUsed = time.Now() }()

	id, err := c.text.Cmd("BODY %s", msgID)
	if err != nil {
		c.state = StateBroken
		return StatusRefused, fmt.Errorf("nntp: send body: %w", err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, msg, err := c.text.ReadCodeLine(0)
	if err != nil {
		c.state = StateBroken
		return StatusRefused, fmt.Errorf("nntp: read body response: %w", err)
	}

	switch {
	case code == 222:
		dr := c.text.DotReader()
		if _, err := io.Copy(w, dr); err != nil {
			c.state = StateBroken
			return StatusRefused, fmt.Errorf("nntp: read body content: %w", err)
		}
		c.state = StateIdle
		return StatusOK, nil
	case code == 430 || code == 423:
		c.state = StateIdle
		return StatusMissing, fmt.Errorf("nntp: article not found: %s", msg)
	default:
		c.state = StateIdle
		return StatusRefused, fmt.Errorf("nntp: body refused: %d %s", code, msg)
	}
}

// Stat issues "STAT <msg-id>" to cheaply probe article presence without
// transferring the body, used by the health-check sampler.
func (c *Conn) Stat(msgID string) (ArticleStatus, error) {
	c.state = StateInUse
	defer func() { c.state = StateIdle; c.lastUsed = time.Now() }()

	id, err := c.text.Cmd("STAT %s", msgID)
	if err != nil {
		c.state = StateBroken
		return StatusRefused, fmt.Errorf("nntp: send stat: %w", err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, msg, err := c.text.ReadCodeLine(0)
	if err != nil {
		c.state = StateBroken
		return StatusRefused, fmt.Errorf("nntp: read stat response: %w", err)
	}

	switch {
	case code == 223:
		return StatusOK, nil
	case code == 430 || code == 423:
		return StatusMissing, fmt.Errorf("nntp: article not found: %s", msg)
	default:
		return StatusRefused, fmt.Errorf("nntp: stat refused: %d %s", code, msg)
	}
}

// Broken reports whether this connection's last operation left it in a
// non-recoverable protocol state; the pool must destroy rather than
// recycle it.
func (c *Conn) Broken() bool { return c.state == StateBroken }

// Close sends QUIT and tears down the socket. Errors are not
// actionable at this point, so Close never returns one; it only logs
// in the caller where a logger is available.
func (c *Conn) Close() error {
	c.state = StateClosing
	if c.text != nil {
		_, _ = c.text.Cmd("QUIT")
	}
	if c.raw != nil {
		return c.raw.Close()
	}
	return nil
}

// idleFor reports how long this connection has sat unused.
func (c *Conn) idleFor(now time.Time) time.Duration { return now.Sub(c.lastUsed) }

// parseMessageID normalizes a bracketed message-id, tolerating callers
// that pass it with or without angle brackets.
func parseMessageID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
