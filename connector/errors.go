package connector

import "github.com/ceyewan/fnportal/xerrors"

var (
	ErrConfig      = xerrors.Wrap(xerrors.ErrInvalidInput, "connector: invalid config")
	ErrConnection  = xerrors.Wrap(xerrors.ErrUnavailable, "connector: connection failed")
	ErrHealthCheck = xerrors.Wrap(xerrors.ErrUnavailable, "connector: health check failed")
	ErrClosed      = xerrors.Wrap(xerrors.ErrClosed, "connector: already closed")
)
