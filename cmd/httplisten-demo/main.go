// Command httplisten-demo wires a Registry and a single Listener
// together and serves plain-text responses on one prefix, for manual
// smoke-testing. It is not part of the library's public contract.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/registry"
	"github.com/planetsite/httplisten/wslisten"
)

func main() {
	addr := flag.String("prefix", "http://+:8080/", "prefix literal to register")
	certDir := flag.String("cert-dir", "", "directory to search for <port>.cer/<port>.key")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	reg := registry.New(registry.Options{
		CertDir: *certDir,
		Log:     log,
	})

	listener, err := wslisten.New(wslisten.Options{Prefixes: []string{*addr}})
	if err != nil {
		log.WithError(err).Fatal("parsing prefix")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := listener.Start(ctx, reg); err != nil {
		log.WithError(err).Fatal("starting listener")
	}
	log.WithField("prefix", *addr).Info("httplisten-demo listening")

	go serveLoop(ctx, listener, log)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := listener.Stop(reg); err != nil {
		log.WithError(err).Error("stopping listener")
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("registry shutdown")
	}
}

// serveLoop drains routed requests and answers each with a fixed
// plain-text body, echoing the request target for visibility.
func serveLoop(ctx context.Context, listener *wslisten.Listener, log *logrus.Entry) {
	for {
		rc, err := listener.GetContext(ctx)
		if err != nil {
			return
		}
		go respond(rc, log)
	}
}

func respond(rc *httpconn.RequestContext, log *logrus.Entry) {
	body := "hello from httplisten-demo: " + rc.Preamble.Target
	_, err := io.WriteString(rc.ResponseWriter(), "HTTP/1.1 200 OK\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Content-Length: "+itoa(len(body))+"\r\n"+
		"Connection: keep-alive\r\n\r\n"+body)
	if err != nil {
		log.WithError(err).Debug("writing demo response")
	}
	rc.Close(false)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
