package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "shotbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// slowRequest promotes the per-request log line from Debug to Info.
const slowRequest = 750 * time.Millisecond

// invoke runs h for req with an optional deadline. A panic in h is logged and
// reported as an error; it never reaches the dispatch worker.
func (r *Router) invoke(ctx context.Context, req *Request, timeout time.Duration, h HandlerFunc) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	log := req.Logger
	if log.IsZero() {
		log = r.log
	}

	start := time.Now()
	err := runGuarded(ctx, req, h, log)
	elapsed := time.Since(start)
	dur := logx.Duration("dur", elapsed)

	switch {
	case err != nil:
		log.Warn("request failed", dur, logx.String("kind", string(req.Update.Kind)), logx.Err(err))
	case elapsed >= slowRequest:
		log.Info("slow request", dur)
	default:
		log.Debug("request ok", dur)
	}
	return err
}

func runGuarded(ctx context.Context, req *Request, h HandlerFunc, log logx.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, req)
}
