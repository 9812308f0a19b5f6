package onhost

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/agent-control/internal/supervisor"
)

const defaultVersionInterval = time.Minute

// runVersionProbe periodically runs vc's command and publishes the first
// regex match of its combined output as a VersionEvent (§4.4 "Version
// probe").
func runVersionProbe(ctx context.Context, vc *VersionCheck, events chan<- supervisor.VersionEvent, log *logrus.Entry) {
	re, err := regexp.Compile(vc.Regex)
	if err != nil {
		log.WithError(err).Error("invalid version_check regex")
		return
	}

	ticker := time.NewTicker(defaultVersionInterval)
	defer ticker.Stop()

	for {
		if version, ok := probeVersion(ctx, vc, re); ok {
			select {
			case events <- supervisor.VersionEvent{Version: version}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func probeVersion(ctx context.Context, vc *VersionCheck, re *regexp.Regexp) (string, bool) {
	cmd := exec.CommandContext(ctx, vc.Command, vc.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", false
	}

	match := re.FindStringSubmatch(out.String())
	if match == nil {
		return "", false
	}
	if len(match) > 1 {
		return match[1], true
	}
	return match[0], true
}
