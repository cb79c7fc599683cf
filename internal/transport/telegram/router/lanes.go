package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lanerunner/internal/lane"
	"lanerunner/internal/orchestrator"
)

// Controller is the orchestrator surface the lane commands drive.
type Controller interface {
	Lanes(ctx context.Context) ([]string, error)
	Progress(ctx context.Context, name string) (orchestrator.Progress, error)
	Start(ctx context.Context, name string, targets []string, startIndex int) (string, error)
	Resume(ctx context.Context, name string, targets []string) (string, error)
	Stop(ctx context.Context, name string) error
	Override(ctx context.Context, name string) error
	ClearOverride(ctx context.Context, name string) error
}

// LaneCommands returns the owner-only lane control commands.
func LaneCommands(ctl Controller) []Command {
	return []Command{
		{
			Name:        "lanes",
			Description: "list lanes and their progress",
			Usage:       "/lanes",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				ids, err := ctl.Lanes(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					return req.Reply(ctx, "no lanes configured")
				}
				lines := make([]string, 0, len(ids))
				for _, id := range ids {
					p, err := ctl.Progress(ctx, id)
					if err != nil {
						return err
					}
					lines = append(lines, summaryLine(p))
				}
				return req.Reply(ctx, strings.Join(lines, "\n"))
			},
		},
		{
			Name:        "status",
			Description: "show lane progress",
			Usage:       "/status <lane>",
			Access:      AccessOwnerOnly,
			Handle: laneHandler(func(ctx context.Context, req *Request, name string) (string, error) {
				p, err := ctl.Progress(ctx, name)
				if err != nil {
					return "", err
				}
				return formatProgress(p), nil
			}),
		},
		{
			Name:        "start",
			Description: "start a new run",
			Usage:       "/start <lane> [index]",
			Access:      AccessOwnerOnly,
			Handle: laneHandler(func(ctx context.Context, req *Request, name string) (string, error) {
				idx := 0
				if len(req.Args) > 1 {
					n, err := strconv.Atoi(req.Args[1])
					if err != nil || n < 0 {
						return "index must be a non-negative number", nil
					}
					idx = n
				}
				runID, err := ctl.Start(ctx, name, nil, idx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s started at %d (run %s)", name, idx, shortRun(runID)), nil
			}),
		},
		{
			Name:        "resume",
			Description: "resume from the saved index",
			Usage:       "/resume <lane>",
			Access:      AccessOwnerOnly,
			Handle: laneHandler(func(ctx context.Context, req *Request, name string) (string, error) {
				runID, err := ctl.Resume(ctx, name, nil)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s resumed (run %s)", name, shortRun(runID)), nil
			}),
		},
		{
			Name:        "stop",
			Description: "stop a lane",
			Usage:       "/stop <lane>",
			Access:      AccessOwnerOnly,
			Handle: laneHandler(func(ctx context.Context, req *Request, name string) (string, error) {
				if err := ctl.Stop(ctx, name); err != nil {
					return "", err
				}
				return name + " stopped", nil
			}),
		},
		{
			Name:        "override",
			Description: "bypass today's quota (off to clear)",
			Usage:       "/override <lane> [off]",
			Access:      AccessOwnerOnly,
			Handle: laneHandler(func(ctx context.Context, req *Request, name string) (string, error) {
				if len(req.Args) > 1 && strings.EqualFold(req.Args[1], "off") {
					if err := ctl.ClearOverride(ctx, name); err != nil {
						return "", err
					}
					return name + " quota override cleared", nil
				}
				if err := ctl.Override(ctx, name); err != nil {
					return "", err
				}
				return name + " quota override set for today; /resume " + name + " to continue", nil
			}),
		},
	}
}

// laneHandler checks the lane argument and turns caller errors into
// replies. Other errors are returned for the request log.
func laneHandler(fn func(ctx context.Context, req *Request, name string) (string, error)) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) == 0 {
			return req.Reply(ctx, "usage: /"+req.Command+" <lane>")
		}
		text, err := fn(ctx, req, req.Args[0])
		switch {
		case errors.Is(err, orchestrator.ErrUnknownLane), errors.Is(err, lane.ErrInvalidID):
			return req.Reply(ctx, "unknown lane "+strconv.Quote(req.Args[0]))
		case errors.Is(err, orchestrator.ErrNoTargets):
			return req.Reply(ctx, req.Args[0]+" has no targets")
		case err != nil:
			_ = req.Reply(ctx, "error: "+err.Error())
			return err
		}
		return req.Reply(ctx, text)
	}
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
