// Command lidarloc runs the map-relative lidar localizer from a JSON config
// file. Sensor wiring is left to the embedding system; this binary loads the
// map, seeds the initial pose and waits for shutdown.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/mobilerobotics/lidarloc/localization"
	"github.com/mobilerobotics/lidarloc/transform"
)

var logger = golog.NewDevelopmentLogger("lidarloc")

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=path to JSON config file"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	logger = newLogger("lidarloc", argsParsed.Debug)

	cfg, err := localization.ReadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	logger.Infow("configured",
		"method", cfg.RegistrationMethod,
		"map", cfg.MapPath,
		"global_frame", cfg.GlobalFrame,
	)

	loc, err := localization.New(cfg, transform.NewBuffer(), localization.NewLogOutput(logger), logger)
	if err != nil {
		return err
	}
	if err := loc.Activate(ctx); err != nil {
		return err
	}
	logger.Infow("localizer active", "state", loc.State().String())

	utils.ContextMainReadyFunc(ctx)()
	for utils.SelectContextOrWait(ctx, time.Minute) {
		logger.Debugw("running", "state", loc.State().String(), "path_len", len(loc.Path()))
	}
	return nil
}
