package xflow

import (
	"errors"
	"fmt"
)

var (
	ErrStopTimeout        = errors.New("xflow: worker did not stop within timeout")
	ErrQueueOverflow      = errors.New("xflow: mailbox full, message dropped")
	ErrHandlerPanic       = errors.New("xflow: handler panic")
	ErrUncloneable        = errors.New("xflow: envelope cannot be deep copied")
	ErrWorkerRunning      = errors.New("xflow: previous worker still running")
	ErrDuplicateNode      = errors.New("xflow: duplicate node id")
	ErrUnknownNode        = errors.New("xflow: unknown node")
	ErrGraphClosed        = errors.New("xflow: graph is closed")
	ErrDispatchPoolClosed = errors.New("xflow: error dispatch pool shutdown timeout")
)

type ErrUnknownNodeType struct{ name string }

func (e ErrUnknownNodeType) Error() string { return fmt.Sprintf("xflow: unknown node type: %s", e.name) }
