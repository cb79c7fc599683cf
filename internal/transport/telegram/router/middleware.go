package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"lanerunner/pkg/logx"
)

const slowCommand = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and tells the user
// the command failed.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLogger(log, req).Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
				if req.Adapter != nil {
					_ = req.Reply(context.WithoutCancel(ctx), "internal error ("+req.ReqID+")")
				}
			}()
			return next(ctx, req)
		}
	}
}

func reqLogger(log logx.Logger, req *Request) logx.Logger {
	if req.Logger.IsZero() {
		return log
	}
	return req.Logger
}

// MWRequestLog logs failures at WARN and slow requests at INFO; the rest
// go to DEBUG.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{logx.Duration("dur", time.Since(start)), logx.Int("args", len(req.Args))}
			logger := reqLogger(log, req)
			switch {
			case err != nil:
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			case time.Since(start) >= slowCommand:
				logger.Info("command slow", fields...)
			default:
				logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}
