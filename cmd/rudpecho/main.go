// Command rudpecho is a small manual-testing harness for the rudp
// session core: it either listens for one peer and echoes back
// whatever it receives, or connects to a peer and sends lines read
// from stdin. It is glue around package rudp, not part of the session
// core itself.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"rudp"
)

func main() {
	var (
		localIP   = pflag.String("local-ip", "0.0.0.0", "local address to bind")
		localPort = pflag.Int("local-port", 9999, "local port to bind")
		peerIP    = pflag.String("peer-ip", "", "peer address")
		peerPort  = pflag.Int("peer-port", 0, "peer port")
		listen    = pflag.Bool("listen", false, "wait for a peer instead of connecting to one")
	)
	pflag.Parse()

	ctx := makeBaseLogger(context.Background())

	if *peerIP == "" || *peerPort == 0 {
		dlog.Error(ctx, "rudpecho: --peer-ip and --peer-port are required")
		os.Exit(2)
	}

	ep, err := rudp.Bind(ctx, *localIP, *localPort)
	if err != nil {
		dlog.Errorf(ctx, "rudpecho: bind: %v", err)
		os.Exit(1)
	}
	defer ep.Close()

	if *listen {
		if err := ep.Listen(ctx, *peerIP, *peerPort); err != nil {
			dlog.Errorf(ctx, "rudpecho: listen: %v", err)
			os.Exit(1)
		}
		runEcho(ctx, ep)
		return
	}

	if err := ep.Connect(ctx, *peerIP, *peerPort); err != nil {
		dlog.Errorf(ctx, "rudpecho: connect: %v", err)
		os.Exit(1)
	}
	runSender(ctx, ep)
}

// runEcho reads messages and sends each one straight back.
func runEcho(ctx context.Context, ep *rudp.Endpoint) {
	for {
		payload, err := ep.Receive()
		if err != nil {
			dlog.Infof(ctx, "rudpecho: session ended: %v", err)
			return
		}
		dlog.Infof(ctx, "rudpecho: got %q, echoing back", payload)
		if err := ep.Send(payload); err != nil {
			dlog.Warnf(ctx, "rudpecho: send: %v", err)
			return
		}
	}
}

// runSender sends each line of stdin as one message.
func runSender(ctx context.Context, ep *rudp.Endpoint) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := ep.Send([]byte(line)); err != nil {
			dlog.Warnf(ctx, "rudpecho: send: %v", err)
			return
		}
		reply, err := ep.Receive()
		if err != nil {
			dlog.Infof(ctx, "rudpecho: session ended: %v", err)
			return
		}
		fmt.Printf("echo: %s\n", reply)
	}
}

// makeBaseLogger wires a logrus logger into the context the way
// cmd/traffic/logger.go does: LOG_LEVEL env var controls verbosity,
// dlog.WrapLogrus bridges it into dlog's context-carried logger.
func makeBaseLogger(ctx context.Context) context.Context {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	dl := dlog.WrapLogrus(logger)
	dlog.SetFallbackLogger(dl)
	return dlog.WithLogger(ctx, dl)
}
