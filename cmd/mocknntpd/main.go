// Command mocknntpd is a minimal RFC 3977 NNTP server for exercising
// internal/nntp and internal/segment in tests and local load runs
// without a real provider account. It is one of the external
// operational tools named alongside the load testers and connectivity
// tester: it speaks the subset of the protocol internal/nntp/conn.go's
// client issues (greeting, AUTHINFO, BODY, STAT, QUIT), plus GROUP,
// which conn.go itself never sends.
package main

import (
	"flag"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"net"
	"net/textproto"
	"os"
	"strings"

	"github.com/javi11/usenetstream/internal/yenc"
)

func main() {
	addr := flag.String("listen", "127.0.0.1:1119", "address to listen on")
	username := flag.String("username", "", "required AUTHINFO USER value, empty disables auth")
	password := flag.String("password", "", "required AUTHINFO PASS value")
	articleSize := flag.Int("article-size", 64*1024, "bytes of synthetic payload served per message-id")
	failRate := flag.Float64("fail-rate", 0, "fraction of BODY requests answered with a transient 400 instead of the article")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen failed", "addr", *addr, "err", err)
		os.Exit(1)
	}
	logger.Info("mocknntpd listening", "addr", *addr)

	srv := &server{
		username:    *username,
		password:    *password,
		articleSize: *articleSize,
		failRate:    *failRate,
		log:         logger,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", "err", err)
			continue
		}
		go srv.handle(conn)
	}
}

type server struct {
	username    string
	password    string
	articleSize int
	failRate    float64
	log         *slog.Logger
}

// handle serves one client connection until QUIT or disconnect. Every
// command is answered synchronously, matching the teacher's client
// assumption that responses arrive strictly in request order.
func (s *server) handle(raw net.Conn) {
	defer raw.Close()

	s.log.Debug("connection accepted", "remote", raw.RemoteAddr())
	defer s.log.Debug("connection closed", "remote", raw.RemoteAddr())

	text := textproto.NewConn(raw)
	authenticated := s.username == ""

	if err := text.PrintfLine("200 mocknntpd ready"); err != nil {
		return
	}

	for {
		line, err := text.ReadLine()
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			_ = text.PrintfLine("500 command not recognized")
			continue
		}

		cmd := strings.ToUpper(fields[0])
		switch cmd {
		case "AUTHINFO":
			authenticated = s.handleAuthinfo(text, fields, authenticated)
		case "BODY":
			s.handleBody(text, fields, authenticated)
		case "STAT":
			s.handleStat(text, fields, authenticated)
		case "GROUP":
			if len(fields) < 2 {
				_ = text.PrintfLine("501 syntax error")
				continue
			}
			_ = text.PrintfLine("211 0 0 0 %s", fields[1])
		case "QUIT":
			_ = text.PrintfLine("205 goodbye")
			return
		default:
			_ = text.PrintfLine("500 command not recognized")
		}
	}
}

func (s *server) handleAuthinfo(text *textproto.Conn, fields []string, authenticated bool) bool {
	if len(fields) < 3 {
		_ = text.PrintfLine("501 syntax error")
		return authenticated
	}
	switch strings.ToUpper(fields[1]) {
	case "USER":
		if s.username == "" {
			_ = text.PrintfLine("281 authentication accepted")
			return true
		}
		if fields[2] != s.username {
			_ = text.PrintfLine("481 authentication rejected")
			return false
		}
		_ = text.PrintfLine("381 password required")
		return authenticated
	case "PASS":
		if fields[2] != s.password {
			_ = text.PrintfLine("481 authentication rejected")
			return false
		}
		_ = text.PrintfLine("281 authentication accepted")
		return true
	default:
		_ = text.PrintfLine("501 syntax error")
		return authenticated
	}
}

func (s *server) handleBody(text *textproto.Conn, fields []string, authenticated bool) {
	if !authenticated {
		_ = text.PrintfLine("480 authentication required")
		return
	}
	if len(fields) < 2 {
		_ = text.PrintfLine("501 syntax error")
		return
	}
	msgID := fields[1]

	if msgID == "<missing>" || strings.Contains(msgID, "missing") {
		_ = text.PrintfLine("430 no such article")
		return
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		_ = text.PrintfLine("400 temporarily unavailable")
		return
	}

	body := yenc.Encode(syntheticPayload(msgID, s.articleSize), yenc.EncodeOptions{Name: msgID})

	_ = text.PrintfLine("222 body follows")
	dw := text.DotWriter()
	_, _ = dw.Write(body)
	_ = dw.Close()
}

func (s *server) handleStat(text *textproto.Conn, fields []string, authenticated bool) {
	if !authenticated {
		_ = text.PrintfLine("480 authentication required")
		return
	}
	if len(fields) < 2 {
		_ = text.PrintfLine("501 syntax error")
		return
	}
	if strings.Contains(fields[1], "missing") {
		_ = text.PrintfLine("430 no such article")
		return
	}
	_ = text.PrintfLine("223 0 %s article exists", fields[1])
}

// syntheticPayload deterministically derives article bytes from the
// message-id, so repeated BODY requests for the same id (retries,
// multiple providers in a load-test run) return byte-identical content
// and a client comparing checksums across fetches sees consistent data.
func syntheticPayload(msgID string, size int) []byte {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msgID))
	seed := h.Sum64()
	rng := rand.New(rand.NewSource(int64(seed)))

	buf := make([]byte, size)
	_, _ = rng.Read(buf)
	return buf
}
