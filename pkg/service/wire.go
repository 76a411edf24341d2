//go:build wireinject
// +build wireinject

package service

import (
	"github.com/google/wire"

	"github.com/livekit/room-coordinator/pkg/config"
)

func InitializeServer(conf *config.Config) (*CoordinatorServer, error) {
	wire.Build(
		ServiceSet,
	)
	return &CoordinatorServer{}, nil
}
