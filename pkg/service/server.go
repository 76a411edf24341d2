package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/telemetry"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
)

type CoordinatorServer struct {
	config      *config.Config
	nodeID      string
	roomManager *RoomManager
	webhooks    *telemetry.WebhookNotifier
	httpServer  *http.Server
	promServer  *http.Server
	running     atomic.Bool
	doneChan    chan struct{}
	closedChan  chan struct{}
}

func NewCoordinatorServer(
	conf *config.Config,
	roomManager *RoomManager,
	webhooks *telemetry.WebhookNotifier,
	transportService *TransportService,
	observeService *ObserveService,
	roomsService *RoomsService,
) (*CoordinatorServer, error) {
	s := &CoordinatorServer{
		config:      conf,
		nodeID:      utils.NewGuid(utils.NodePrefix),
		roomManager: roomManager,
		webhooks:    webhooks,
		closedChan:  make(chan struct{}),
	}

	middlewares := []negroni.Handler{
		// always first
		negroni.NewRecovery(),
		// CORS is allowed, observers are UI clients on other origins
		cors.New(cors.Options{
			AllowOriginFunc: func(origin string) bool {
				return true
			},
			AllowedHeaders: []string{"*"},
		}),
		negroni.HandlerFunc(RemoveDoubleSlashes),
	}

	mux := http.NewServeMux()
	mux.Handle("/transport", transportService)
	mux.Handle("/observe", observeService)
	mux.Handle("/rooms", roomsService)
	mux.Handle("/rooms/", roomsService)
	mux.HandleFunc("/", s.defaultHandler)

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, middlewares...),
	}

	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Handler: promhttp.Handler(),
		}
	}

	return s, nil
}

func (s *CoordinatorServer) Node() string {
	return s.nodeID
}

func (s *CoordinatorServer) HTTPPort() int {
	return int(s.config.Port)
}

func (s *CoordinatorServer) IsRunning() bool {
	return s.running.Load()
}

func (s *CoordinatorServer) RoomManager() *RoomManager {
	return s.roomManager
}

func (s *CoordinatorServer) Start() error {
	if s.running.Load() {
		return ErrServerRunning
	}

	prometheus.Init(s.nodeID)

	addresses := s.config.BindAddresses
	if addresses == nil {
		addresses = []string{""}
	}

	// ensure we could listen
	listeners := make([]net.Listener, 0)
	promListeners := make([]net.Listener, 0)
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.Port))))
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)

		if s.promServer != nil {
			ln, err = net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.PrometheusPort))))
			if err != nil {
				return err
			}
			promListeners = append(promListeners, ln)
		}
	}

	values := []interface{}{
		"portHttp", s.config.Port,
		"nodeID", s.nodeID,
	}
	if s.promServer != nil {
		values = append(values, "portPrometheus", s.config.PrometheusPort)
	}
	if len(s.config.BindAddresses) == 0 {
		values = append(values, "bindAddresses", "all")
	} else {
		values = append(values, "bindAddresses", s.config.BindAddresses)
	}
	logger.Infow("starting room coordinator", values...)

	httpGroup := &errgroup.Group{}
	for _, ln := range listeners {
		l := ln
		httpGroup.Go(func() error {
			return s.httpServer.Serve(l)
		})
	}
	go func() {
		if err := httpGroup.Wait(); err != http.ErrServerClosed {
			logger.Errorw("could not start server", err)
			s.Stop(true)
		}
	}()

	for _, ln := range promListeners {
		go func(l net.Listener) {
			_ = s.promServer.Serve(l)
		}(ln)
	}

	s.doneChan = make(chan struct{})
	s.running.Store(true)

	<-s.doneChan

	// wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(ctx)
	}

	s.roomManager.Stop()
	s.webhooks.Stop()

	close(s.closedChan)
	return nil
}

func (s *CoordinatorServer) Stop(force bool) {
	if force {
		s.roomManager.Stop()
	}
	if !s.running.Swap(false) {
		return
	}
	// wait for all transports to disconnect
	for len(s.roomManager.ListRooms()) > 0 {
		time.Sleep(time.Second)
	}

	close(s.doneChan)

	// wait for fully closed
	<-s.closedChan
}

func (s *CoordinatorServer) defaultHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		_, _ = w.Write([]byte("OK"))
		return
	}
	http.NotFound(w, r)
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}

func (s *CoordinatorServer) String() string {
	return fmt.Sprintf("CoordinatorServer(node=%s, port=%d)", s.nodeID, s.config.Port)
}
