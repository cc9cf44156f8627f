// Command modemsim exposes a simulated SIM800-class modem on a pseudo
// terminal so the controller can be run on a bench without hardware.
//
// Point the controller at the printed tty path, then type a token (e.g.
// "A", or "3 G" to use register 3) on stdin to deliver a message.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aymanbagabas/go-pty"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Register   int           `short:"r" long:"register" default:"1" description:"Storage register injected messages land in"`
	Token      string        `short:"t" long:"token" default:"A" description:"Token injected by --every"`
	Every      time.Duration `short:"e" long:"every" description:"Inject a message at this interval"`
	HTTPStatus int           `long:"http-status" default:"200" description:"Status code reported in +HTTPACTION"`
	Verbose    bool          `short:"v" long:"verbose" description:"Log every command"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tok, err := parseToken(opts.Token)
	if err != nil {
		logger.Error("Invalid token", "error", err)
		os.Exit(2)
	}

	tty, err := pty.New()
	if err != nil {
		logger.Error("Failed to open pty", "error", err)
		os.Exit(1)
	}
	defer tty.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := newSim(tty, opts.HTTPStatus, logger)
	logger.Info("Modem simulator ready", "tty", tty.Name())
	fmt.Println(tty.Name())

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				s.Feed(buf[:n])
			}
			if err != nil {
				logger.Error("pty read failed", "error", err)
				stop()
				return
			}
		}
	}()

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			reg, t, err := parseInjection(sc.Text(), opts.Register)
			if err != nil {
				logger.Warn("Ignoring input", "error", err)
				continue
			}
			s.Inject(reg, t)
		}
	}()

	var tick <-chan time.Time
	if opts.Every > 0 {
		t := time.NewTicker(opts.Every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down", "sent", len(s.Sent()))
			return
		case <-tick:
			s.Inject(opts.Register, tok)
		}
	}
}

// parseToken accepts a single character or a numeric byte ("0x41").
func parseToken(s string) (byte, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("token %q: %w", s, err)
	}
	return byte(n), nil
}

// parseInjection reads "<token>" or "<register> <token>".
func parseInjection(line string, register int) (int, byte, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		tok, err := parseToken(fields[0])
		return register, tok, err
	case 2:
		reg, err := strconv.Atoi(fields[0])
		if err != nil || reg < 0 {
			return 0, 0, fmt.Errorf("register %q", fields[0])
		}
		tok, err := parseToken(fields[1])
		return reg, tok, err
	default:
		return 0, 0, fmt.Errorf("expected \"[register] token\", got %q", line)
	}
}
