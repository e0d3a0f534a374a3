package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "clubbot/pkg/logx"
)

func TestChainAppliesOutsideIn(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, req *Request) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	if err := h(context.Background(), &Request{Command: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(order, ","); got != "outer,inner,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestMWTimeoutBoundsHandler(t *testing.T) {
	h := Chain(func(ctx context.Context, req *Request) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("not canceled")
		}
	}, MWTimeout(30*time.Millisecond))

	err := h(context.Background(), &Request{Command: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMWTimeoutZeroMeansNoDeadline(t *testing.T) {
	h := Chain(func(ctx context.Context, req *Request) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	}, MWTimeout(0))
	if err := h(context.Background(), &Request{Command: "x"}); err != nil {
		t.Fatal(err)
	}
}

func TestMWPanicRecoverTurnsPanicIntoError(t *testing.T) {
	h := Chain(func(ctx context.Context, req *Request) error {
		panic("boom")
	}, MWPanicRecover(logx.Nop()))

	err := h(context.Background(), &Request{Command: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestMWRequestLogPassesErrorThrough(t *testing.T) {
	want := errors.New("handler failed")
	h := Chain(func(ctx context.Context, req *Request) error {
		return want
	}, MWRequestLog(logx.Nop()))

	if err := h(context.Background(), &Request{Command: "x"}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
