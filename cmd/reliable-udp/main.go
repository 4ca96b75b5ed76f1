// Command reliable-udp is the peer-to-peer transport's command-line
// surface: it parses connection flags with cobra, performs the
// handshake, starts the receive loop and heartbeat supervisor, and
// drives the send/command loop from stdin until the user closes the
// connection or the peer is lost.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/librescoot/reliable-udp/pkg/checkpoint"
	"github.com/librescoot/reliable-udp/pkg/config"
	"github.com/librescoot/reliable-udp/pkg/eventbus"
	"github.com/librescoot/reliable-udp/pkg/metrics"
	"github.com/librescoot/reliable-udp/pkg/repl"
	"github.com/librescoot/reliable-udp/pkg/session"
	"github.com/librescoot/reliable-udp/pkg/sink"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "reliable-udp",
		Short: "peer-to-peer reliable message and file transport over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.SourceIP, "source", "", "local IP address to bind (required)")
	flags.StringVar(&cfg.DestIP, "destination", "", "remote peer's IP address (required)")
	flags.IntVar(&cfg.SrcPort, "src-port", 0, "local UDP port to bind (required)")
	flags.IntVar(&cfg.DestPort, "dest-port", 0, "remote peer's UDP port (required)")
	flags.IntVar(&cfg.MaxFragmentSize, "mtu", cfg.MaxFragmentSize, "maximum application payload per fragment, in bytes")
	flags.StringVar(&cfg.SaveDir, "save-dir", cfg.SaveDir, "directory received files are saved to")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", "", "optional Redis address to mirror lifecycle and delivery events to")
	flags.StringVar(&cfg.RedisPass, "redis-pass", "", "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on, e.g. :9100")

	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("src-port")
	_ = cmd.MarkFlagRequired("dest-port")

	return cmd
}

func run(cfg config.Config) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("starting reliable-udp %s:%d -> %s:%d", cfg.SourceIP, cfg.SrcPort, cfg.DestIP, cfg.DestPort)

	rec := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("serving metrics on %s", cfg.MetricsAddr)
	}

	reportPriorCheckpoint(cfg.SaveDir)

	var bus *eventbus.Publisher
	if cfg.RedisAddr != "" {
		b, err := eventbus.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("reliable-udp: failed to connect to event bus: %w", err)
		}
		defer b.Close()
		bus = b
		log.Printf("publishing session events to redis at %s", cfg.RedisAddr)
	}

	console := sink.NewConsole(os.Stdout, cfg.SaveDir)
	var deliverySink sink.Sink = console
	if bus != nil {
		deliverySink = &eventbus.Sink{Console: console, Bus: bus}
	}

	sess, err := session.New(cfg, deliverySink, rec, bus)
	if err != nil {
		return fmt.Errorf("reliable-udp: failed to create session: %w", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("signal received, closing connection")
		_ = sess.CloseAbrupt(true)
	}()

	log.Printf("waiting for handshake as %s", roleHint(cfg))
	if err := sess.Open(ctx); err != nil {
		return fmt.Errorf("reliable-udp: handshake failed: %w", err)
	}
	log.Printf("connection established, role=%s", sess.Role())

	sess.Run(ctx)

	fmt.Println(repl.HelpText)
	source := repl.New(os.Stdin)
	runCommandLoop(sess, source)

	sess.Wait()
	return sess.Err()
}

// reportPriorCheckpoint logs the last-known counters from a previous
// run's checkpoint file, if one exists under saveDir. Absence is not an
// error: the common case is a first run with nothing to report.
func reportPriorCheckpoint(saveDir string) {
	snap, err := checkpoint.Read(checkpoint.PathFor(saveDir))
	if err != nil {
		return
	}
	log.Printf("found prior checkpoint: %s -> %s, role=%d, next_msg_id=%d, last_accepted_msg_id=%d, reason=%q, closed_at=%s",
		snap.LocalAddr, snap.RemoteAddr, snap.Role, snap.NextMsgID, snap.LastAcceptedMsgID, snap.Reason, snap.ClosedAt)
}

// roleHint reports the role the session will deterministically assign
// itself once the handshake completes; the role decides which side
// drives the heartbeat exchange.
func roleHint(cfg config.Config) session.Role {
	if cfg.SrcPort > cfg.DestPort {
		return session.RoleInitiator
	}
	return session.RoleResponder
}

// runCommandLoop is the send/command loop: it blocks on repl input and
// drives the session synchronously, one command at a time, completing
// each message before reading the next line.
func runCommandLoop(sess *session.Session, source *repl.Source) {
	for {
		select {
		case <-sess.Done():
			return
		default:
		}

		cmd, err := source.Next()
		if err != nil {
			log.Printf("input closed (%v), closing connection", err)
			_ = sess.CloseAbrupt(true)
			return
		}

		switch cmd.Kind {
		case repl.CmdEmpty:
			continue
		case repl.CmdHelp:
			fmt.Println(repl.HelpText)
		case repl.CmdSendText:
			if err := sess.SendText(cmd.Text); err != nil {
				log.Printf("failed to send message: %v", err)
			}
		case repl.CmdSendFile:
			if err := sess.SendFile(cmd.Text); err != nil {
				log.Printf("failed to send file: %v", err)
			}
		case repl.CmdSetMaxFragment:
			if err := sess.SetMaxFragmentSize(cmd.N); err != nil {
				log.Printf("%v", err)
			}
		case repl.CmdSetSaveDir:
			if err := sess.SetSaveDir(cmd.Text); err != nil {
				log.Printf("%v", err)
			}
		case repl.CmdInjectError:
			sess.SetInjectError()
			log.Printf("next outbound fragment will be sent with a corrupted declared length")
		case repl.CmdCloseClean:
			if err := sess.CloseGraceful(); err != nil {
				log.Printf("clean close failed: %v", err)
			}
			return
		case repl.CmdCloseAbrupt:
			_ = sess.CloseAbrupt(true)
			return
		}
	}
}
