// Command capprobe connects to a server, negotiates capabilities, and
// records what the server advertised and what was enabled.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/spf13/pflag"

	"github.com/dalnet/ircstate/internal/config"
	"github.com/dalnet/ircstate/internal/state"
	"github.com/dalnet/ircstate/internal/storage"
	"github.com/dalnet/ircstate/internal/transport"
)

// motdWait bounds how long we wait after RPL_WELCOME for RPL_ISUPPORT and
// the end of the MOTD.
const motdWait = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "./config.yaml", "Path to configuration file")
	dataDir := pflag.StringP("data-dir", "o", "", "Where to write caps.txt (overrides data_dir)")
	timeout := pflag.DurationP("timeout", "t", 30*time.Second, "Give up if registration takes longer")
	watch := pflag.BoolP("watch", "w", false, "Stay connected and report capability changes until interrupted")
	debug := pflag.Bool("debug", false, "Log every line sent and received")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	raw, err := transport.Dial(dialCtx, cfg.Address(), cfg.TLS, &tls.Config{ServerName: cfg.Server})
	if err != nil {
		log.Fatalf("Probe failed: %v", err)
	}

	conn := transport.New(raw, transport.Options{
		Nick:       cfg.Nick,
		Username:   cfg.Username,
		RealName:   cfg.IRCName,
		Password:   cfg.ServerPass,
		CapTimeout: time.Duration(cfg.CapTimeout),
		SendRate:   cfg.SendRate,
		SendBurst:  cfg.SendBurst,
		Debug:      *debug,
	})
	defer conn.Close()

	p := &prober{
		cfg:      cfg,
		conn:     conn,
		out:      os.Stdout,
		timeout:  *timeout,
		motdWait: motdWait,
	}
	if err := p.run(ctx, *watch); err != nil {
		log.Fatalf("Probe failed: %v", err)
	}
}

type prober struct {
	cfg      *config.Config
	conn     *transport.Conn
	out      io.Writer
	timeout  time.Duration
	motdWait time.Duration

	last *storage.Report
}

// run registers, waits for the server to describe itself, then writes the
// report. In watch mode it stays until ctx is done, rewriting the report
// whenever the capabilities change.
func (p *prober) run(ctx context.Context, watch bool) error {
	regCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	session := state.NewSession(p.cfg.Nick, p.cfg.Caps...)
	if err := p.conn.Register(regCtx, session); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	// RPL_ISUPPORT, and with it CASEMAPPING, only follows RPL_WELCOME
	if err := p.conn.AwaitReady(regCtx, session, p.motdWait); err != nil {
		return fmt.Errorf("failed to read server features: %w", err)
	}

	if err := os.MkdirAll(p.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if prev, err := storage.LoadReport(p.cfg.DataDir); err == nil && prev.Server == p.cfg.Address() {
		p.last = prev
	}

	report := p.save(session)
	fmt.Fprintf(p.out, "Registered as %s on %s\n", session.Nick(), report.Server)
	fmt.Fprintf(p.out, "Casemapping: %s\n", report.CaseMapping)
	fmt.Fprintf(p.out, "Advertised: %d capabilities\n", len(report.Available))
	fmt.Fprintf(p.out, "Enabled: %s\n", strings.Join(report.Enabled, " "))

	if watch {
		err := p.conn.Run(ctx, session, func(msg ircmsg.Message) {
			if !strings.EqualFold(msg.Command, "CAP") || len(msg.Params) < 2 {
				return
			}
			switch strings.ToUpper(msg.Params[1]) {
			case "NEW", "DEL", "ACK":
				p.save(session)
			}
		})
		if ctx.Err() == nil {
			return err
		}
	}

	// ctx may be done by now
	quitCtx, quitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer quitCancel()
	if err := p.conn.Quit(quitCtx, "capprobe done"); err != nil {
		log.Printf("Warning: quit failed: %v", err)
	}
	return nil
}

// save writes the current report and logs how it differs from the last one.
func (p *prober) save(session *state.Session) *storage.Report {
	report := newReport(p.cfg.Address(), session)
	if p.last != nil {
		added, removed := storage.DiffReports(p.last, report)
		if len(added) > 0 {
			log.Printf("New or changed capabilities: %s", strings.Join(added, " "))
		}
		if len(removed) > 0 {
			log.Printf("Capabilities no longer advertised: %s", strings.Join(removed, " "))
		}
	}
	p.last = report

	if err := storage.SaveReport(p.cfg.DataDir, report); err != nil {
		log.Printf("Warning: could not save report: %v", err)
	}
	return report
}

func newReport(server string, session *state.Session) *storage.Report {
	report := &storage.Report{
		Server:      server,
		Time:        time.Now().UTC().Format(time.RFC3339),
		CaseMapping: session.CaseMapping().String(),
		Available:   make(map[string]string),
		Enabled:     session.EnabledCaps(),
	}
	for name, v := range session.AvailableCaps() {
		report.Available[name] = v.Arg
	}
	return report
}
