package service

import (
	"github.com/google/wire"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/telemetry"
)

var ServiceSet = wire.NewSet(
	getWebHookConfig,
	telemetry.NewWebhookNotifier,
	NewRoomManager,
	NewTransportService,
	NewObserveService,
	NewRoomsService,
	NewCoordinatorServer,
)

func getWebHookConfig(conf *config.Config) config.WebHookConfig {
	return conf.WebHook
}
