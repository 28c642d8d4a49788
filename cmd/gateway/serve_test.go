package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func runServerAsync(ctx context.Context, srv *http.Server) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- runServer(ctx, srv) }()
	return errc
}

func TestRunServer_ListenFailureReturnsPromptly(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	// porta ocupada: ListenAndServe falha na hora e ctx nunca termina
	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	select {
	case err := <-runServerAsync(context.Background(), srv):
		if err == nil {
			t.Fatalf("expected listen error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runServer did not return after listen failure")
	}
}

func TestRunServer_ContextCancelStopsServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	errc := runServerAsync(ctx, srv)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runServer did not return after cancel")
	}
}
