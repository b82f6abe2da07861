package common

import (
	"context"
	"fmt"
	"log"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/youta-t/flarc"
)

type Task[T any] func(
	ctx context.Context,
	logger *log.Logger,
	cl flarc.Commandline[T],
	params []any,
) error

// NewTask adapts Task to flarc.Task, with a logger writing to stderr.
func NewTask[T any](task Task[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], params []any) error {
		logger := log.New(cl.Stderr(), "", log.LstdFlags)
		logger.SetPrefix(fmt.Sprintf("[%s] ", cl.Fullname()))
		return task(ctx, logger, cl, params)
	}
}

// ComponentLogger creates a leveled logger for library components, writing to stderr.
func ComponentLogger[T any](cl flarc.Commandline[T], loglevel gommonlog.Lvl) *gommonlog.Logger {
	l := gommonlog.New(cl.Fullname())
	l.SetOutput(cl.Stderr())
	l.SetLevel(loglevel)
	return l
}
