// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/api"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the kernel over HTTP",
		Long: `serve exposes check, normalize, contract, expand and convert under
/v1/kernel, with Prometheus metrics on /metrics. It stops gracefully on
interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if a.cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			srv := api.New(a.newKernel(), a.cfg.Server,
				api.WithLogger(a.logger.Slog()),
				api.WithMetricsHandler(telemetry.MetricsHandler()),
				api.WithServiceName(a.cfg.Telemetry.ServiceName))

			a.printer.Success("serving on http://" + a.cfg.Server.Addr)
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
