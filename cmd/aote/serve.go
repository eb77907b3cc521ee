/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the service name reported by the health endpoint.
const healthService = "aote"

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the engine and serve the grpc health endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(conf, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":7070", "address of the grpc health endpoint")
	return cmd
}

func serve(conf *common.EngineConfig, listen string) error {
	s, e, err := openEngine(conf)
	if err != nil {
		return err
	}

	runMode, _ := common.ParseRunMode(conf.RunMode)
	if runMode != common.Embedded {
		go e.CheckpointRunner().Run()
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		closeEngine(s, e)
		return errors.Wrapf(err, "listen on %s", listen)
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	log.WithFields(log.Fields{"address": lis.Addr().String()}).Info("aote::serve; serving")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sc)

	var serveErr error
	select {
	case sig := <-sc:
		log.WithFields(log.Fields{"signal": sig}).Info("aote::serve; shutting down")
	case serveErr = <-errCh:
		log.WithFields(log.Fields{"err": serveErr}).Error("aote::serve; grpc server stopped")
	}

	hs.Shutdown()
	grpcServer.GracefulStop()

	if err := closeEngine(s, e); err != nil {
		return err
	}
	return serveErr
}
