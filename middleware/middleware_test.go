package middleware

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/atlet99/durable-outbox"
)

func testEntry() *outbox.Entry {
	return &outbox.Entry{
		ID:        "e-1",
		Channel:   "orders",
		Payload:   json.RawMessage(`{}`),
		Status:    outbox.StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) Middleware {
		return func(ctx context.Context, _ *outbox.Entry, next Handler) (outbox.SendResult, error) {
			order = append(order, name+":before")
			res, err := next(ctx)
			order = append(order, name+":after")
			return res, err
		}
	}

	chain := Chain(tag("outer"), tag("inner"))
	res, err := chain(context.Background(), testEntry(), func(context.Context) (outbox.SendResult, error) {
		order = append(order, "handler")
		return outbox.SendResult{Success: true}, nil
	})
	if err != nil || !res.Success {
		t.Fatalf("chain result = %+v, %v", res, err)
	}

	want := "outer:before,inner:before,handler,inner:after,outer:after"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("chain order = %s, want %s", got, want)
	}
}

func TestChainEmpty(t *testing.T) {
	t.Parallel()

	chain := Chain()
	res, err := chain(context.Background(), testEntry(), func(context.Context) (outbox.SendResult, error) {
		return outbox.SendResult{Success: true}, nil
	})
	if err != nil || !res.Success {
		t.Fatalf("empty chain result = %+v, %v", res, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()

	mw := Recover(discardLogger())
	res, err := mw(context.Background(), testEntry(), func(context.Context) (outbox.SendResult, error) {
		panic("transport exploded")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if !strings.Contains(err.Error(), "transport exploded") {
		t.Fatalf("panic error = %v", err)
	}
	if res.Success || res.PermanentlyFailed {
		t.Fatalf("panic result must be zero value, got %+v", res)
	}
}

func TestRecoverPassthrough(t *testing.T) {
	t.Parallel()

	mw := Recover(discardLogger())
	res, err := mw(context.Background(), testEntry(), func(context.Context) (outbox.SendResult, error) {
		return outbox.SendResult{Success: true}, nil
	})
	if err != nil || !res.Success {
		t.Fatalf("passthrough result = %+v, %v", res, err)
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	t.Parallel()

	mw := Timeout(20 * time.Millisecond)
	_, err := mw(context.Background(), testEntry(), func(ctx context.Context) (outbox.SendResult, error) {
		select {
		case <-ctx.Done():
			return outbox.SendResult{Error: ctx.Err().Error()}, nil
		case <-time.After(5 * time.Second):
			return outbox.SendResult{Success: true}, nil
		}
	})
	if err != nil {
		t.Fatalf("timeout middleware errored: %v", err)
	}
}

func TestTimeoutDisabled(t *testing.T) {
	t.Parallel()

	mw := Timeout(0)
	res, err := mw(context.Background(), testEntry(), func(ctx context.Context) (outbox.SendResult, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("zero timeout must not set a deadline")
		}
		return outbox.SendResult{Success: true}, nil
	})
	if err != nil || !res.Success {
		t.Fatalf("disabled timeout result = %+v, %v", res, err)
	}
}

func TestLoggingPassesResultThrough(t *testing.T) {
	t.Parallel()

	mw := Logging(discardLogger())
	want := outbox.SendResult{Error: "try later"}
	res, err := mw(context.Background(), testEntry(), func(context.Context) (outbox.SendResult, error) {
		return want, nil
	})
	if err != nil || res != want {
		t.Fatalf("logging result = %+v, %v", res, err)
	}
}
