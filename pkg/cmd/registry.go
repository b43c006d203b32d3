package cmd

import (
	"log/slog"

	"github.com/clinicore/automation/pkg/models"
	"github.com/clinicore/automation/pkg/registry"
	"github.com/clinicore/automation/pkg/runner"
	"github.com/clinicore/automation/pkg/steps/httprequest"
	"github.com/clinicore/automation/pkg/steps/notify"
	"github.com/clinicore/automation/pkg/steps/transform"
)

// NewRegistry builds the step handler registry with all native step types.
// Remote step types share the given runner.
func NewRegistry(logger *slog.Logger, r runner.Runner) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(transform.NewFactory())
	reg.Register(notify.NewFactory())

	for _, stepType := range models.StepTypes() {
		if stepType.Remote() {
			reg.Register(httprequest.NewFactory(stepType, r))
		}
	}

	return reg
}
