package usecases

import (
	"context"
	"fmt"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type PingBackend struct {
	Backend Pinger
}

func (u PingBackend) Execute(ctx context.Context) error {
	if u.Backend == nil {
		return fmt.Errorf("backend is nil")
	}
	return u.Backend.Ping(ctx)
}
