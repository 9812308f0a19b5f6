// Package main is the entrypoint for the agent-control binary.
package main

import (
	"github.com/sirupsen/logrus"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/newrelic/agent-control/internal/cmd/agentcontrol"
)

func main() {
	ctx := ctrl.SetupSignalHandler()
	cmd := agentcontrol.App()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
